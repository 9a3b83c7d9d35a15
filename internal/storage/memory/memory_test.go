package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/storage"
)

func newAccount(id, email string) *models.Account {
	return &models.Account{ID: id, Email: email, Role: models.RoleUser, IsTrial: true}
}

func newSubscription(id, userID, key string, now time.Time) *models.Subscription {
	return &models.Subscription{
		ID: id, UserID: userID, Plan: models.PlanMonthly, Amount: 20000,
		Status: models.StatusPending, PaymentStatus: models.PaymentPending,
		StartDate: now, EndDate: now.AddDate(0, 1, 0), IdempotencyKey: key,
		LastPaymentAttempt: &now,
		PaymentHistory:     []models.PaymentRecord{{Date: now, Status: models.AttemptPending, IdempotencyKey: key}},
	}
}

func TestStore_Accounts(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, newAccount("u1", " Ann@Example.com")))
	err := s.CreateAccount(ctx, newAccount("u2", "ann@example.com "))
	require.ErrorIs(t, err, storage.ErrEmailTaken)

	got, err := s.GetAccountByEmail(ctx, "ANN@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, int64(1), got.Version)

	got.Name = "mutated"
	again, err := s.GetAccountByID(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, again.Name, "returned records must be copies")

	_, err = s.GetAccountByID(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestStore_UpdateAccount(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newAccount("u1", "a@example.com")))

	updated, err := s.UpdateAccount(ctx, "u1", func(a *models.Account) error {
		a.Name = "Ann"
		a.Email = "other@example.com"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Ann", updated.Name)
	assert.Equal(t, "a@example.com", updated.Email, "email is immutable through UpdateAccount")
	assert.Equal(t, int64(2), updated.Version)

	same, err := s.UpdateAccount(ctx, "u1", func(a *models.Account) error {
		a.Name = "ignored"
		return storage.ErrNoChange
	})
	require.NoError(t, err)
	assert.Equal(t, "Ann", same.Name)
	assert.Equal(t, int64(2), same.Version)

	_, err = s.UpdateAccount(ctx, "missing", func(*models.Account) error { return nil })
	require.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestStore_UpdateAccountIsAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newAccount("u1", "a@example.com")))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.UpdateAccount(ctx, "u1", func(a *models.Account) error {
				a.Devices = append(a.Devices, models.Device{DeviceID: fmt.Sprintf("d%d", i)})
				return nil
			})
		}(i)
	}
	wg.Wait()

	got, err := s.GetAccountByID(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, got.Devices, 50)
	assert.Equal(t, int64(51), got.Version)
}

func TestStore_Subscriptions(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateAccount(ctx, newAccount("u1", "a@example.com")))
	require.NoError(t, s.CreateAccount(ctx, newAccount("u2", "b@example.com")))

	sub := newSubscription("s1", "u1", "k1", now)
	require.NoError(t, s.CreateSubscription(ctx, sub))
	require.ErrorIs(t, s.CreateSubscription(ctx, newSubscription("s2", "u1", "k2", now)), storage.ErrSubscriptionExists)
	require.ErrorIs(t, s.CreateSubscription(ctx, newSubscription("s3", "u2", "k1", now)), storage.ErrIdempotencyKeyTaken)
	require.ErrorIs(t, s.CreateSubscription(ctx, newSubscription("s4", "nobody", "k9", now)), storage.ErrAccountNotFound)

	bad := newSubscription("s5", "u2", "k5", now)
	bad.EndDate = bad.StartDate
	require.ErrorIs(t, s.CreateSubscription(ctx, bad), models.ErrInvalidWindow)

	next := sub.Clone()
	next.IdempotencyKey = "k2"
	next.RecordAttempt(models.PaymentRecord{Date: now, Status: models.AttemptPending, IdempotencyKey: "k2"})
	require.NoError(t, s.UpdateSubscriptionIf(ctx, storage.MatchOf(sub), next))
	assert.Equal(t, int64(2), next.Version)

	require.ErrorIs(t, s.UpdateSubscriptionIf(ctx, storage.MatchOf(sub), next), storage.ErrConditionFailed)

	byOld, err := s.GetSubscriptionByIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "s1", byOld.ID)
	byNew, err := s.GetSubscriptionByIdempotencyKey(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, "k2", byNew.IdempotencyKey)
	_, err = s.GetSubscriptionByIdempotencyKey(ctx, "k3")
	require.ErrorIs(t, err, storage.ErrSubscriptionNotFound)

	require.NoError(t, s.DeleteAccount(ctx, "u1"))
	_, err = s.GetSubscriptionByUser(ctx, "u1")
	require.ErrorIs(t, err, storage.ErrSubscriptionNotFound)
}

func TestStore_ConditionalUpdateRace(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateAccount(ctx, newAccount("u1", "a@example.com")))
	sub := newSubscription("s1", "u1", "k1", now)
	require.NoError(t, s.CreateSubscription(ctx, sub))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := sub.Clone()
			next.Status = models.StatusActive
			if err := s.UpdateSubscriptionIf(ctx, storage.MatchOf(sub), next); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestStore_SweeperQueries(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	soon := now.Add(12 * time.Hour)
	later := now.Add(96 * time.Hour)
	a1 := newAccount("u1", "a@example.com")
	a1.TrialEndsAt = &soon
	a2 := newAccount("u2", "b@example.com")
	a2.TrialEndsAt = &later
	require.NoError(t, s.CreateAccount(ctx, a1))
	require.NoError(t, s.CreateAccount(ctx, a2))

	trials, err := s.ListTrialsEndingBetween(ctx, now, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, "u1", trials[0].ID)

	old := now.Add(-time.Hour)
	stale := newSubscription("s1", "u1", "k1", old)
	stale.LastPaymentAttempt = &old
	require.NoError(t, s.CreateSubscription(ctx, stale))

	lapsed := newSubscription("s2", "u2", "k2", now.AddDate(0, -2, 0))
	lapsed.Status = models.StatusActive
	lapsed.PaymentStatus = models.PaymentSucceeded
	require.NoError(t, s.CreateSubscription(ctx, lapsed))

	a3 := newAccount("u3", "c@example.com")
	require.NoError(t, s.CreateAccount(ctx, a3))
	cancelled := newSubscription("s3", "u3", "k3", now.AddDate(0, -1, -1))
	cancelled.Status = models.StatusCancelled
	cancelled.PaymentStatus = models.PaymentSucceeded
	require.NoError(t, s.CreateSubscription(ctx, cancelled))

	pending, err := s.ListStalePending(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "s1", pending[0].ID)

	expired, err := s.ListLapsedActive(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	ids := []string{expired[0].ID, expired[1].ID}
	assert.ElementsMatch(t, []string{"s2", "s3"}, ids)
}

func TestStore_ContextCancelled(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetAccountByID(ctx, "u1")
	require.ErrorIs(t, err, context.Canceled)
}
