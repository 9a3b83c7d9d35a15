// Package reconciler применяет события оплаты к записи подписки ровно один раз.
//
// События приходят тремя независимыми путями: вебхук провайдера, возврат
// браузера после оплаты и явная проверка клиентом. Все они вызывают Reconcile
// с одним и тем же ключом идемпотентности; изменение состояния делает только
// тот вызов, чьё условное обновление (compare-and-swap по статусам и версии)
// прошло первым. Остальные видят завершённое состояние попытки и ничего не меняют.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/lib/month"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/storage"
)

// Outcome итог обработки события.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRepaired  Outcome = "repaired"
)

// Store хранилище подписок и учётных записей.
type Store interface {
	GetSubscriptionByIdempotencyKey(ctx context.Context, key string) (*models.Subscription, error)
	UpdateSubscriptionIf(ctx context.Context, match storage.Match, sub *models.Subscription) error
	UpdateAccount(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error)
}

// Publisher отправляет доменные события во внешние системы.
type Publisher interface {
	Publish(ctx context.Context, ev models.DomainEvent) error
}

// Recorder учитывает исходы обработки.
type Recorder interface {
	ReconcileEvent(event, outcome string)
}

// Result результат Reconcile.
type Result struct {
	Outcome      Outcome
	Subscription *models.Subscription
}

// Reconciler машина состояний попыток оплаты.
type Reconciler struct {
	store     Store
	publisher Publisher
	metrics   Recorder
	log       *slog.Logger
	now       func() time.Time
}

// Option настройка Reconciler.
type Option func(*Reconciler)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New создаёт Reconciler. publisher и metrics могут быть nil.
func New(store Store, publisher Publisher, metrics Recorder, log *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile применяет событие оплаты. Безопасен для повторного вызова с тем же событием
// любое число раз: после перехода попытки в завершённое состояние вызовы ничего не меняют.
//
// Потеря гонки условного обновления приводит к одному перечитыванию. Если попытка
// к этому моменту завершена, возвращается OutcomeDuplicate, иначе ошибка CONFLICT,
// и повтор остаётся за механизмом доставки.
func (r *Reconciler) Reconcile(ctx context.Context, ev models.PaymentEvent) (Result, error) {
	const op = "reconciler.Reconcile"
	log := r.log.With(
		slog.String("op", op),
		slog.String("event", string(ev.Type)),
		slog.String("source", string(ev.Source)),
		slog.String("idempotency_key", ev.IdempotencyKey),
	)

	res, err := r.reconcile(ctx, ev)
	if err != nil {
		r.record(ev.Type, outcomeOf(err))
		if apperr.KindOf(err) == apperr.KindServer {
			log.Error("failed to reconcile payment event", sl.Err(err))
		} else {
			log.Warn("payment event rejected", sl.Err(err))
		}
		return res, err
	}
	r.record(ev.Type, string(res.Outcome))
	log.Info("payment event reconciled", slog.String("outcome", string(res.Outcome)))
	return res, nil
}

func (r *Reconciler) reconcile(ctx context.Context, ev models.PaymentEvent) (Result, error) {
	const op = "reconciler.reconcile"
	if err := validate(ev); err != nil {
		return Result{}, err
	}

	for attempt := 0; ; attempt++ {
		sub, err := r.load(ctx, ev.UserID, ev.IdempotencyKey)
		if err != nil {
			return Result{}, err
		}

		if done, res, err := r.settled(ctx, sub, ev); done {
			return res, err
		}
		if attempt > 0 {
			return Result{Subscription: sub}, apperr.Conflict(apperr.TypeConcurrentUpdate,
				"subscription is being updated concurrently, retry later")
		}

		now := r.now().UTC()
		next, err := transition(sub, ev, now)
		if err != nil {
			return Result{Subscription: sub}, err
		}
		err = r.store.UpdateSubscriptionIf(ctx, storage.MatchOf(sub), next)
		if errors.Is(err, storage.ErrConditionFailed) {
			continue
		}
		if err != nil {
			return Result{Subscription: sub}, apperr.Internal(fmt.Errorf("%s: %w", op, err))
		}

		if ev.Type == models.EventCheckoutCompleted {
			if _, err := r.syncAccount(ctx, next); err != nil {
				return Result{Subscription: next}, apperr.Internal(fmt.Errorf("%s: %w", op, err))
			}
		}
		r.publish(ctx, next, ev)
		return Result{Outcome: OutcomeApplied, Subscription: next}, nil
	}
}

// settled проверяет, завершена ли уже попытка с ключом события.
// Для повторного CheckoutCompleted восстанавливает зеркало учётной записи, если оно разошлось.
func (r *Reconciler) settled(ctx context.Context, sub *models.Subscription, ev models.PaymentEvent) (bool, Result, error) {
	state, _ := sub.AttemptState(ev.IdempotencyKey)
	duplicate := state.Terminal()
	if ev.Type == models.EventCheckoutCompleted && sub.HasSucceededSession(ev.SessionID) {
		duplicate = true
	}
	if !duplicate {
		return false, Result{}, nil
	}

	res := Result{Outcome: OutcomeDuplicate, Subscription: sub}
	if ev.Type != models.EventCheckoutCompleted || state != models.AttemptSucceeded {
		return true, res, nil
	}
	if !sub.ActiveAt(r.now().UTC()) {
		return true, res, nil
	}
	repaired, err := r.syncAccount(ctx, sub)
	if err != nil {
		return true, res, apperr.Internal(fmt.Errorf("reconciler.settled: %w", err))
	}
	if repaired {
		res.Outcome = OutcomeRepaired
	}
	return true, res, nil
}

func (r *Reconciler) load(ctx context.Context, userID, key string) (*models.Subscription, error) {
	const op = "reconciler.load"
	sub, err := r.store.GetSubscriptionByIdempotencyKey(ctx, key)
	if errors.Is(err, storage.ErrSubscriptionNotFound) {
		return nil, apperr.NotFound(apperr.TypeSubscriptionNotFound, "no checkout found for idempotency key")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
	}
	if sub.UserID != userID {
		return nil, apperr.Conflict(apperr.TypeIdempotencyCollision, "idempotency key belongs to another user")
	}
	return sub, nil
}

// syncAccount переносит план и даты подписки в учётную запись.
// Возвращает true, если зеркало пришлось изменить.
func (r *Reconciler) syncAccount(ctx context.Context, sub *models.Subscription) (bool, error) {
	const op = "reconciler.syncAccount"
	changed := false
	_, err := r.store.UpdateAccount(ctx, sub.UserID, func(a *models.Account) error {
		if a.MirrorMatches(sub) {
			return storage.ErrNoChange
		}
		a.ApplySubscription(sub)
		changed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return changed, nil
}

func (r *Reconciler) publish(ctx context.Context, sub *models.Subscription, ev models.PaymentEvent) {
	if r.publisher == nil || ev.Type == models.EventPaymentDeclined {
		return
	}
	name := models.EventSubscriptionPaymentCancelled
	switch ev.Type {
	case models.EventCheckoutCompleted:
		name = models.EventSubscriptionActivated
	case models.EventPaymentFailed:
		name = models.EventSubscriptionPaymentFailed
	}
	domainEvent := models.DomainEvent{
		Name:       name,
		UserID:     sub.UserID,
		Plan:       sub.Plan,
		OccurredAt: r.now().UTC(),
		Data: map[string]any{
			"subscriptionId": sub.ID,
			"idempotencyKey": ev.IdempotencyKey,
			"sessionId":      ev.SessionID,
			"status":         sub.Status,
			"source":         ev.Source,
		},
	}
	if ev.Type == models.EventCheckoutCompleted {
		domainEvent.Data["endDate"] = sub.EndDate
	} else if sub.FailureReason != "" {
		domainEvent.Data["failureReason"] = sub.FailureReason
	}
	if err := r.publisher.Publish(ctx, domainEvent); err != nil {
		r.log.Warn("failed to publish domain event",
			slog.String("op", "reconciler.publish"),
			slog.String("event", name),
			sl.Err(err))
	}
}

func (r *Reconciler) record(t models.EventType, outcome string) {
	if r.metrics != nil {
		r.metrics.ReconcileEvent(string(t), outcome)
	}
}

func outcomeOf(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		return "conflict"
	case apperr.KindNotFound:
		return "not_found"
	case apperr.KindValidation:
		return "invalid"
	}
	return "error"
}

func validate(ev models.PaymentEvent) error {
	if !ev.Type.Valid() {
		return apperr.Validation(apperr.TypeValidation, "unknown payment event type")
	}
	if ev.IdempotencyKey == "" || ev.UserID == "" {
		return apperr.Validation(apperr.TypeValidation, "payment event must carry user id and idempotency key")
	}
	if ev.Plan != "" && !ev.Plan.Valid() {
		return apperr.Validation(apperr.TypeInvalidPlan, "unknown plan "+string(ev.Plan))
	}
	return nil
}

// transition вычисляет новую запись подписки для незавершённой попытки.
func transition(sub *models.Subscription, ev models.PaymentEvent, now time.Time) (*models.Subscription, error) {
	next := sub.Clone()
	next.UpdatedAt = now

	if ev.Type == models.EventCheckoutCompleted {
		plan := ev.Plan
		if plan == "" {
			plan = attemptPlan(sub, ev.IdempotencyKey)
		}
		amount := ev.AmountPaid
		if amount == 0 {
			amount = plan.Amount()
		}
		Activate(next, plan, now)
		if ev.SessionID != "" {
			next.SessionID = ev.SessionID
		}
		next.RecordAttempt(models.PaymentRecord{
			Date:           now,
			Status:         models.AttemptSucceeded,
			SessionID:      ev.SessionID,
			Amount:         amount,
			IdempotencyKey: ev.IdempotencyKey,
			Plan:           plan,
		})
		return next, nil
	}

	if ev.Type == models.EventPaymentDeclined {
		return declined(sub, next, ev, now), nil
	}

	attempt, paymentStatus, status, reason := failure(ev)
	next.RecordAttempt(models.PaymentRecord{
		Date:           now,
		Status:         attempt,
		SessionID:      ev.SessionID,
		FailureReason:  reason,
		IdempotencyKey: ev.IdempotencyKey,
		Plan:           ev.Plan,
	})
	// Попытка по вытесненному ключу остаётся только в журнале.
	if sub.IdempotencyKey != ev.IdempotencyKey {
		return next, nil
	}
	next.PaymentStatus = paymentStatus
	next.FailureReason = reason
	// Неудачное продление не отнимает уже оплаченный период.
	if !sub.PaidThrough(now) {
		next.Status = status
	}
	return next, nil
}

// declined отмечает отклонённую карту. Попытка остаётся открытой, статус подписки не меняется.
func declined(sub, next *models.Subscription, ev models.PaymentEvent, now time.Time) *models.Subscription {
	reason := models.FailureReasonFromCode(ev.FailureCode)
	next.RecordAttempt(models.PaymentRecord{
		Date:           now,
		Status:         models.AttemptDeclined,
		SessionID:      ev.SessionID,
		FailureReason:  reason,
		IdempotencyKey: ev.IdempotencyKey,
		Plan:           ev.Plan,
	})
	if sub.IdempotencyKey == ev.IdempotencyKey {
		next.PaymentStatus = models.PaymentRequiresPaymentMethod
		next.FailureReason = reason
	}
	return next
}

// Activate переводит подписку в active с новым окном от now.
// Общий примитив записи для подтверждённой оплаты и продления.
func Activate(sub *models.Subscription, plan models.Plan, now time.Time) {
	sub.Plan = plan
	sub.Amount = plan.Amount()
	sub.Status = models.StatusActive
	sub.PaymentStatus = models.PaymentSucceeded
	sub.FailureReason = ""
	sub.StartDate = now
	sub.EndDate = month.Add(now, plan.Months())
	sub.LastPaymentDate = &now
	sub.UpdatedAt = now
}

func attemptPlan(sub *models.Subscription, key string) models.Plan {
	if rec, ok := sub.Attempt(key); ok && rec.Plan.Valid() {
		return rec.Plan
	}
	return sub.Plan
}

func failure(ev models.PaymentEvent) (models.AttemptStatus, models.PaymentStatus, models.SubscriptionStatus, models.FailureReason) {
	switch ev.Type {
	case models.EventPaymentFailed:
		return models.AttemptFailed, models.PaymentFailed, models.StatusPaymentFailed, models.FailureReasonFromCode(ev.FailureCode)
	case models.EventPaymentCanceled:
		return models.AttemptCanceled, models.PaymentCanceled, models.StatusPaymentCancelled, models.FailureUserCanceled
	default:
		return models.AttemptExpired, models.PaymentCanceled, models.StatusPaymentCancelled, models.FailureUserCanceled
	}
}

// Renew обновляет окно подписки по уже подтверждённой оплате с ключом key.
// Одна оплата даёт одно окно: если оно уже выставлено, подписка возвращается без изменений.
// Запись идёт тем же условным обновлением, что и Reconcile, поэтому продление
// и параллельный вебхук по тому же ключу сериализуются и приводят к одному исходу.
func (r *Reconciler) Renew(ctx context.Context, userID string, plan models.Plan, key string) (*models.Subscription, error) {
	const op = "reconciler.Renew"
	log := r.log.With(slog.String("op", op), slog.String("user_id", userID), slog.String("idempotency_key", key))
	if !plan.Valid() {
		return nil, apperr.Validation(apperr.TypeInvalidPlan, "unknown plan "+string(plan))
	}

	for attempt := 0; attempt < 2; attempt++ {
		sub, err := r.load(ctx, userID, key)
		if err != nil {
			return nil, err
		}
		rec, ok := sub.Attempt(key)
		if !ok || rec.Status != models.AttemptSucceeded {
			return nil, apperr.Conflict(apperr.TypeRenewalNotConfirmed, "payment for this renewal is not confirmed yet")
		}
		if rec.Plan != "" && rec.Plan != plan {
			return nil, apperr.Validation(apperr.TypeInvalidPlan, "plan does not match the confirmed payment")
		}
		if sub.WindowApplied(rec) {
			log.Debug("payment already applied, renewal is a no-op")
			return sub, nil
		}

		now := r.now().UTC()
		next := sub.Clone()
		Activate(next, plan, now)
		err = r.store.UpdateSubscriptionIf(ctx, storage.MatchOf(sub), next)
		if errors.Is(err, storage.ErrConditionFailed) {
			continue
		}
		if err != nil {
			log.Error("failed to renew subscription", sl.Err(err))
			return nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
		}
		if _, err := r.syncAccount(ctx, next); err != nil {
			log.Error("failed to sync account after renewal", sl.Err(err))
			return nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
		}
		log.Info("subscription renewed", slog.Time("end_date", next.EndDate))
		return next, nil
	}
	return nil, apperr.Conflict(apperr.TypeConcurrentUpdate, "subscription is being updated concurrently, retry later")
}
