package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/pricegate/internal/migrations"
	"github.com/magabrotheeeer/pricegate/internal/models"
)

// setupTestDatabase поднимает PostgreSQL в контейнере и применяет миграции.
func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("pricegate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	var s *Storage
	for i := 0; i < 10; i++ {
		if s, err = New(ctx, dsn); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})

	root, err := filepath.Abs("../../..")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(s.DB, filepath.Join(root, "migrations")))
	return s
}

// TestDataFactory создаёт тестовые записи через публичные методы хранилища.
type TestDataFactory struct {
	storage *Storage
}

func NewTestDataFactory(s *Storage) *TestDataFactory {
	return &TestDataFactory{storage: s}
}

// CreateAccount создаёт пробную учётную запись.
func (f *TestDataFactory) CreateAccount(t *testing.T, email string) *models.Account {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	trialEnds := now.Add(72 * time.Hour)
	a := &models.Account{
		ID:           uuid.NewString(),
		Name:         "Test User",
		Email:        email,
		PasswordHash: "hash",
		Role:         models.RoleUser,
		IsTrial:      true,
		TrialEndsAt:  &trialEnds,
		MaxDevices:   models.DefaultMaxDevices,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.storage.CreateAccount(context.Background(), a))
	return a
}

// CreatePendingSubscription создаёт подписку с одной незавершённой попыткой оплаты.
func (f *TestDataFactory) CreatePendingSubscription(t *testing.T, userID, key string, attemptAt time.Time) *models.Subscription {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	at := attemptAt.UTC().Truncate(time.Microsecond)
	sub := &models.Subscription{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Plan:               models.PlanMonthly,
		Amount:             models.PlanMonthly.Amount(),
		Currency:           models.DefaultCurrency,
		Status:             models.StatusPending,
		PaymentStatus:      models.PaymentPending,
		StartDate:          now,
		EndDate:            now.AddDate(0, 1, 0),
		IdempotencyKey:     key,
		PaymentAttempts:    1,
		LastPaymentAttempt: &at,
		PaymentHistory: []models.PaymentRecord{{
			Date: at, Status: models.AttemptPending, Amount: models.PlanMonthly.Amount(),
			IdempotencyKey: key, Plan: models.PlanMonthly,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.storage.CreateSubscription(context.Background(), sub))
	return sub
}
