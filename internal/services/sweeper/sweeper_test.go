package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/pricegate/internal/cache"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/lifecycle"
	"github.com/magabrotheeeer/pricegate/internal/storage/memory"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type LifecycleMock struct{ mock.Mock }

func (m *LifecycleMock) ExpireStale(ctx context.Context) (lifecycle.SweepReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(lifecycle.SweepReport), args.Error(1)
}

func (m *LifecycleMock) ExpireLapsed(ctx context.Context) (lifecycle.SweepReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(lifecycle.SweepReport), args.Error(1)
}

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(ctx context.Context, ev models.DomainEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type RecorderMock struct{ mock.Mock }

func (m *RecorderMock) SweeperItem(task, outcome string) {
	m.Called(task, outcome)
}

var now = time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)

func seedTrial(t *testing.T, store *memory.Store, endsIn time.Duration) *models.Account {
	t.Helper()
	end := now.Add(endsIn)
	a := &models.Account{
		ID:          uuid.NewString(),
		Email:       uuid.NewString() + "@example.com",
		Role:        models.RoleUser,
		IsTrial:     true,
		TrialEndsAt: &end,
	}
	require.NoError(t, store.CreateAccount(context.Background(), a))
	return a
}

func TestSweeper_RunOnceRunsAllTasks(t *testing.T) {
	lc := &LifecycleMock{}
	lc.On("ExpireStale", mock.Anything).Return(lifecycle.SweepReport{Processed: 2, Failed: 1}, nil).Once()
	lc.On("ExpireLapsed", mock.Anything).Return(lifecycle.SweepReport{}, errors.New("db down")).Once()

	rec := &RecorderMock{}
	rec.On("SweeperItem", TaskStaleCheckouts, "processed").Twice()
	rec.On("SweeperItem", TaskStaleCheckouts, "failed").Once()

	s := New(lc, memory.New(), nil, nil, rec, 24*time.Hour, newNoopLogger())
	s.RunOnce(context.Background())

	lc.AssertExpectations(t)
	rec.AssertExpectations(t)
}

func TestSweeper_NotifyTrials(t *testing.T) {
	store := memory.New()
	soon := seedTrial(t, store, 10*time.Hour)
	seedTrial(t, store, 48*time.Hour)
	seedTrial(t, store, -time.Hour)

	mr := miniredis.RunT(t)
	c := &cache.Cache{Db: redis.NewClient(&redis.Options{Addr: mr.Addr()})}

	pub := &PublisherMock{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev models.DomainEvent) bool {
		return ev.Name == models.EventTrialExpiring && ev.UserID == soon.ID && ev.Data["hoursLeft"] == 10
	})).Return(nil).Once()

	s := New(&LifecycleMock{}, store, pub, c, nil, 24*time.Hour, newNoopLogger())
	s.now = func() time.Time { return now }

	sent, err := s.NotifyTrials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = s.NotifyTrials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent, "already notified")
	assert.True(t, mr.Exists(cache.TrialNoticeKey(soon.ID, *soon.TrialEndsAt)))

	pub.AssertExpectations(t)
}

func TestSweeper_NotifyTrialsPublishFailureIsRetried(t *testing.T) {
	store := memory.New()
	seedTrial(t, store, time.Hour)

	pub := &PublisherMock{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	mr := miniredis.RunT(t)
	c := &cache.Cache{Db: redis.NewClient(&redis.Options{Addr: mr.Addr()})}

	s := New(&LifecycleMock{}, store, pub, c, nil, 24*time.Hour, newNoopLogger())
	s.now = func() time.Time { return now }

	sent, err := s.NotifyTrials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Empty(t, mr.Keys(), "failed notice must not stay marked")

	sent, err = s.NotifyTrials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	pub.AssertExpectations(t)
}

func TestSweeper_NotifyTrialsDisabled(t *testing.T) {
	s := New(&LifecycleMock{}, memory.New(), nil, nil, nil, 24*time.Hour, newNoopLogger())
	sent, err := s.NotifyTrials(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestSweeper_Schedule(t *testing.T) {
	s := New(&LifecycleMock{}, memory.New(), nil, nil, nil, time.Hour, newNoopLogger())
	c := cron.New()

	id, err := s.Schedule(context.Background(), c, "@every 5m")
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Len(t, c.Entries(), 1)

	_, err = s.Schedule(context.Background(), c, "not a schedule")
	assert.Error(t, err)
}
