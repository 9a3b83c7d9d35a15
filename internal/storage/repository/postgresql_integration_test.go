package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/storage"
)

func TestStorage_AccountLifecycle(t *testing.T) {
	s := setupTestDatabase(t)
	f := NewTestDataFactory(s)
	ctx := context.Background()

	a := f.CreateAccount(t, "  Mixed@Example.COM ")
	assert.Equal(t, "mixed@example.com", a.Email)

	got, err := s.GetAccountByEmail(ctx, "MIXED@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Empty(t, got.Devices)

	err = s.CreateAccount(ctx, &models.Account{ID: uuid.NewString(), Email: "mixed@example.com", PasswordHash: "x"})
	require.ErrorIs(t, err, storage.ErrEmailTaken)

	updated, err := s.UpdateAccount(ctx, a.ID, func(acc *models.Account) error {
		acc.Devices = append(acc.Devices, models.Device{
			DeviceID: "web-1", DeviceType: models.DeviceWeb, LastLoginAt: time.Now().UTC(),
		})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err = s.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, got.Devices, 1)
	assert.Equal(t, models.DeviceWeb, got.Devices[0].DeviceType)

	require.NoError(t, s.DeleteAccount(ctx, a.ID))
	_, err = s.GetAccountByID(ctx, a.ID)
	require.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestStorage_UpdateAccountSerializesDeviceAdmission(t *testing.T) {
	s := setupTestDatabase(t)
	a := NewTestDataFactory(s).CreateAccount(t, "race@example.com")
	errLimit := errors.New("limit")

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpdateAccount(context.Background(), a.ID, func(acc *models.Account) error {
				if len(acc.Devices) >= acc.DeviceLimit() {
					return errLimit
				}
				acc.Devices = append(acc.Devices, models.Device{
					DeviceID: fmt.Sprintf("phone-%d", i), DeviceType: models.DeviceMobile, LastLoginAt: time.Now().UTC(),
				})
				return nil
			})
			if err == nil {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.GetAccountByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), admitted.Load())
	assert.Len(t, got.Devices, 2)
}

func TestStorage_SubscriptionCompareAndSwap(t *testing.T) {
	s := setupTestDatabase(t)
	f := NewTestDataFactory(s)
	ctx := context.Background()

	a := f.CreateAccount(t, "cas@example.com")
	sub := f.CreatePendingSubscription(t, a.ID, "key-1", time.Now().Add(-time.Hour))

	_, err := s.GetSubscriptionByUser(ctx, a.ID)
	require.NoError(t, err)

	match := storage.MatchOf(sub)
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := sub.Clone()
			next.Status = models.StatusActive
			next.PaymentStatus = models.PaymentSucceeded
			next.RecordAttempt(models.PaymentRecord{Date: time.Now().UTC(), Status: models.AttemptSucceeded, IdempotencyKey: "key-1"})
			if err := s.UpdateSubscriptionIf(ctx, match, next); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, storage.ErrConditionFailed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := s.GetSubscriptionByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, int64(2), got.Version)
	require.Len(t, got.PaymentHistory, 1)
	assert.Equal(t, models.AttemptSucceeded, got.PaymentHistory[0].Status)
}

func TestStorage_LookupBySupersededKey(t *testing.T) {
	s := setupTestDatabase(t)
	f := NewTestDataFactory(s)
	ctx := context.Background()

	a := f.CreateAccount(t, "history@example.com")
	sub := f.CreatePendingSubscription(t, a.ID, "old-key", time.Now().Add(-time.Hour))

	next := sub.Clone()
	next.IdempotencyKey = "new-key"
	next.RecordAttempt(models.PaymentRecord{Date: time.Now().UTC(), Status: models.AttemptPending, IdempotencyKey: "new-key"})
	require.NoError(t, s.UpdateSubscriptionIf(ctx, storage.MatchOf(sub), next))

	got, err := s.GetSubscriptionByIdempotencyKey(ctx, "old-key")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, "new-key", got.IdempotencyKey)

	_, err = s.GetSubscriptionByIdempotencyKey(ctx, "unknown")
	require.ErrorIs(t, err, storage.ErrSubscriptionNotFound)
}

func TestStorage_SweeperQueries(t *testing.T) {
	s := setupTestDatabase(t)
	f := NewTestDataFactory(s)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := f.CreateAccount(t, "stale@example.com")
	f.CreatePendingSubscription(t, stale.ID, "stale-key", now.Add(-time.Hour))
	fresh := f.CreateAccount(t, "fresh@example.com")
	f.CreatePendingSubscription(t, fresh.ID, "fresh-key", now)

	pending, err := s.ListStalePending(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stale.ID, pending[0].UserID)

	trials, err := s.ListTrialsEndingBetween(ctx, now, now.Add(96*time.Hour))
	require.NoError(t, err)
	assert.Len(t, trials, 2)

	lapsed, err := s.ListLapsedActive(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, lapsed)
}
