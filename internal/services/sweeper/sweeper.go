// Package sweeper выполняет периодическое обслуживание подписок по расписанию cron:
// закрывает брошенные попытки оплаты, переводит истёкшие подписки в expired
// и рассылает уведомления о скором окончании пробного периода.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/magabrotheeeer/pricegate/internal/cache"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/lifecycle"
)

// Названия задач для логов и метрик.
const (
	TaskStaleCheckouts = "stale_checkouts"
	TaskLapsed         = "lapsed_subscriptions"
	TaskTrialNotices   = "trial_notices"
)

// Lifecycle операции менеджера подписок, которые запускает обслуживание.
type Lifecycle interface {
	ExpireStale(ctx context.Context) (lifecycle.SweepReport, error)
	ExpireLapsed(ctx context.Context) (lifecycle.SweepReport, error)
}

// TrialStore поиск заканчивающихся пробных периодов.
type TrialStore interface {
	ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]*models.Account, error)
}

// Publisher отправляет доменные события.
type Publisher interface {
	Publish(ctx context.Context, ev models.DomainEvent) error
}

// Deduper отмечает уже отправленные уведомления.
type Deduper interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Recorder учитывает обработанные записи.
type Recorder interface {
	SweeperItem(task, outcome string)
}

// Sweeper периодическая обработка подписок.
type Sweeper struct {
	lifecycle    Lifecycle
	trials       TrialStore
	publisher    Publisher
	dedupe       Deduper
	metrics      Recorder
	noticeWindow time.Duration
	log          *slog.Logger
	now          func() time.Time
}

// New создаёт Sweeper. publisher, dedupe и metrics могут быть nil.
func New(lc Lifecycle, trials TrialStore, publisher Publisher, dedupe Deduper, metrics Recorder, noticeWindow time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		lifecycle:    lc,
		trials:       trials,
		publisher:    publisher,
		dedupe:       dedupe,
		metrics:      metrics,
		noticeWindow: noticeWindow,
		log:          log,
		now:          time.Now,
	}
}

// Schedule регистрирует RunOnce в планировщике c по выражению schedule.
// Запуски не перекрываются: следующий пропускается, пока идёт предыдущий.
func (s *Sweeper) Schedule(ctx context.Context, c *cron.Cron, schedule string) (cron.EntryID, error) {
	const op = "sweeper.Schedule"
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		s.RunOnce(ctx)
	}))
	id, err := c.AddJob(schedule, job)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// RunOnce выполняет все задачи по очереди. Ошибка одной задачи не останавливает остальные.
func (s *Sweeper) RunOnce(ctx context.Context) {
	const op = "sweeper.RunOnce"
	log := s.log.With(slog.String("op", op))
	started := s.now()

	s.runReport(ctx, TaskStaleCheckouts, s.lifecycle.ExpireStale)
	s.runReport(ctx, TaskLapsed, s.lifecycle.ExpireLapsed)
	if n, err := s.NotifyTrials(ctx); err != nil {
		log.Error("trial notices failed", sl.Err(err))
	} else if n > 0 {
		log.Info("trial notices sent", slog.Int("count", n))
	}

	log.Debug("sweep finished", slog.Duration("took", s.now().Sub(started)))
}

func (s *Sweeper) runReport(ctx context.Context, task string, fn func(context.Context) (lifecycle.SweepReport, error)) {
	log := s.log.With(slog.String("task", task))
	report, err := fn(ctx)
	s.record(task, "processed", report.Processed)
	s.record(task, "skipped", report.Skipped)
	s.record(task, "failed", report.Failed)
	if err != nil {
		log.Error("sweeper task failed", sl.Err(err))
		return
	}
	if report.Processed+report.Skipped+report.Failed == 0 {
		log.Debug("nothing to do")
		return
	}
	log.Info("sweeper task finished",
		slog.Int("processed", report.Processed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)
}

// NotifyTrials публикует trial.expiring для пробных периодов, заканчивающихся
// в ближайшие noticeWindow. Каждое окончание уведомляется один раз, если доступен dedupe.
func (s *Sweeper) NotifyTrials(ctx context.Context) (int, error) {
	const op = "sweeper.NotifyTrials"
	if s.publisher == nil || s.noticeWindow <= 0 {
		return 0, nil
	}
	log := s.log.With(slog.String("op", op))

	now := s.now().UTC()
	accounts, err := s.trials.ListTrialsEndingBetween(ctx, now, now.Add(s.noticeWindow))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	sent := 0
	for _, a := range accounts {
		key := cache.TrialNoticeKey(a.ID, *a.TrialEndsAt)
		if s.dedupe != nil {
			fresh, err := s.dedupe.Acquire(ctx, key, s.noticeWindow+time.Hour)
			if err != nil {
				log.Warn("notice dedupe unavailable", sl.Err(err))
			} else if !fresh {
				s.record(TaskTrialNotices, "skipped", 1)
				continue
			}
		}
		err := s.publisher.Publish(ctx, models.DomainEvent{
			Name:       models.EventTrialExpiring,
			UserID:     a.ID,
			Email:      a.Email,
			OccurredAt: now,
			Data: map[string]any{
				"name":        a.Name,
				"trialEndsAt": a.TrialEndsAt,
				"hoursLeft":   int(a.TrialEndsAt.Sub(now).Hours()),
			},
		})
		if err != nil {
			s.record(TaskTrialNotices, "failed", 1)
			log.Warn("failed to publish trial notice", slog.String("user_id", a.ID), sl.Err(err))
			if s.dedupe != nil {
				if relErr := s.dedupe.Release(ctx, key); relErr != nil {
					log.Warn("failed to release notice mark", sl.Err(relErr))
				}
			}
			continue
		}
		s.record(TaskTrialNotices, "processed", 1)
		sent++
	}
	return sent, nil
}

func (s *Sweeper) record(task, outcome string, n int) {
	if s.metrics == nil {
		return
	}
	for range n {
		s.metrics.SweeperItem(task, outcome)
	}
}
