// Package lifecycle управляет жизненным циклом подписки: выбор плана,
// оформление оплаты, продление, отмена и плановое истечение.
//
// Только этот пакет инициирует смену плана вне реконсиляции; все переходы,
// вызванные оплатой, проходят через reconciler.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/pricegate/internal/cache"
	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/lib/month"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/paymentprovider"
	"github.com/magabrotheeeer/pricegate/internal/services/access"
	"github.com/magabrotheeeer/pricegate/internal/services/reconciler"
	"github.com/magabrotheeeer/pricegate/internal/storage"
)

const sessionStateTTL = 24 * time.Hour

// Store хранилище учётных записей и подписок.
type Store interface {
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	UpdateAccount(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error)
	GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscriptionIf(ctx context.Context, match storage.Match, sub *models.Subscription) error
	ListStalePending(ctx context.Context, before time.Time) ([]*models.Subscription, error)
	ListLapsedActive(ctx context.Context, now time.Time) ([]*models.Subscription, error)
}

// Provider платёжный провайдер.
type Provider interface {
	Configured() bool
	CreateCheckout(ctx context.Context, req paymentprovider.CheckoutRequest) (*paymentprovider.CheckoutSession, error)
	GetCheckout(ctx context.Context, sessionID string) (*paymentprovider.CheckoutState, error)
	ExpireCheckout(ctx context.Context, sessionID string) (*paymentprovider.CheckoutState, error)
}

// Reconciler применяет события оплаты.
type Reconciler interface {
	Reconcile(ctx context.Context, ev models.PaymentEvent) (reconciler.Result, error)
	Renew(ctx context.Context, userID string, plan models.Plan, key string) (*models.Subscription, error)
}

// Locker короткоживущие блокировки.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// SessionCache кэш снимков сессий оплаты у провайдера.
type SessionCache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// Publisher отправляет доменные события.
type Publisher interface {
	Publish(ctx context.Context, ev models.DomainEvent) error
}

// Recorder учитывает результаты оформления оплаты.
type Recorder interface {
	Checkout(plan, result string)
}

// Config параметры менеджера.
type Config struct {
	// PendingWindow в течение этого времени повторное оформление того же плана отклоняется.
	PendingWindow time.Duration
	// StaleAfter возраст ожидающей оплаты, после которого она считается брошенной.
	StaleAfter time.Duration
	Currency   string
}

// Manager менеджер жизненного цикла подписки.
type Manager struct {
	store      Store
	provider   Provider
	reconciler Reconciler
	locker     Locker
	sessions   SessionCache
	publisher  Publisher
	metrics    Recorder
	cfg        Config
	log        *slog.Logger
	now        func() time.Time
}

// Deps зависимости Manager. Locker, Sessions, Publisher и Metrics необязательны.
type Deps struct {
	Store      Store
	Provider   Provider
	Reconciler Reconciler
	Locker     Locker
	Sessions   SessionCache
	Publisher  Publisher
	Metrics    Recorder
}

// New создаёт Manager.
func New(deps Deps, cfg Config, log *slog.Logger) *Manager {
	if cfg.PendingWindow <= 0 {
		cfg.PendingWindow = 15 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = models.DefaultCurrency
	}
	return &Manager{
		store:      deps.Store,
		provider:   deps.Provider,
		reconciler: deps.Reconciler,
		locker:     deps.Locker,
		sessions:   deps.Sessions,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// PlanQuote позиция каталога тарифов.
type PlanQuote struct {
	Plan     models.Plan `json:"plan"`
	Amount   int64       `json:"amount"`
	Currency string      `json:"currency"`
	Months   int         `json:"months"`
}

// Plans возвращает каталог тарифов.
func (m *Manager) Plans() []PlanQuote {
	plans := models.Plans()
	out := make([]PlanQuote, 0, len(plans))
	for _, p := range plans {
		out = append(out, PlanQuote{Plan: p.Plan, Amount: p.Amount, Currency: m.cfg.Currency, Months: p.Months})
	}
	return out
}

// Checkout созданная попытка оплаты.
type Checkout struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	SessionID      string    `json:"sessionId"`
	URL            string    `json:"url"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// InitiateCheckout создаёт сессию оплаты и переводит подписку пользователя в ожидание оплаты.
//
// Повторное оформление того же плана, пока предыдущая попытка в ожидании и моложе
// PendingWindow, отклоняется с CHECKOUT_IN_PROGRESS. Параллельные запросы
// разводятся блокировкой в redis; без redis их развязывает условное обновление.
func (m *Manager) InitiateCheckout(ctx context.Context, userID string, plan models.Plan) (*Checkout, error) {
	const op = "lifecycle.InitiateCheckout"
	log := m.log.With(slog.String("op", op), slog.String("user_id", userID), slog.String("plan", string(plan)))

	if !plan.Valid() {
		m.record(plan, "invalid_plan")
		return nil, apperr.Validation(apperr.TypeInvalidPlan, "unknown plan "+string(plan))
	}
	account, err := m.store.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, accountError(op, err)
	}
	now := m.now().UTC()

	current, err := m.store.GetSubscriptionByUser(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrSubscriptionNotFound) {
		return nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
	}
	if current != nil {
		if inflight := m.inFlight(current, plan, now); inflight != nil {
			m.record(plan, "in_progress")
			return nil, inflight
		}
	}

	lockKey := cache.CheckoutLockKey(userID, string(plan))
	if m.locker != nil {
		ok, err := m.locker.Acquire(ctx, lockKey, m.cfg.PendingWindow)
		switch {
		case err != nil:
			log.Warn("checkout guard unavailable, relying on conditional update", sl.Err(err))
		case !ok:
			m.record(plan, "in_progress")
			return nil, apperr.Conflict(apperr.TypeCheckoutInProgress, "checkout for this plan is already in progress")
		default:
			defer func() {
				if err := m.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
					log.Warn("failed to release checkout guard", sl.Err(err))
				}
			}()
		}
	}

	key := uuid.NewString()
	session, err := m.provider.CreateCheckout(ctx, paymentprovider.CheckoutRequest{
		UserID:         userID,
		Email:          account.Email,
		Plan:           plan,
		Amount:         plan.Amount(),
		Currency:       m.cfg.Currency,
		IdempotencyKey: key,
	})
	if err != nil {
		m.record(plan, "provider_error")
		log.Error("failed to create checkout session", sl.Err(err))
		return nil, providerError(err)
	}

	if err := m.storePending(ctx, userID, plan, key, session.SessionID, now); err != nil {
		m.record(plan, "error")
		log.Error("failed to store pending checkout", sl.Err(err))
		if _, expErr := m.provider.ExpireCheckout(context.WithoutCancel(ctx), session.SessionID); expErr != nil {
			log.Warn("failed to expire orphaned checkout session", sl.Err(expErr))
		}
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
	}

	m.record(plan, "created")
	log.Info("checkout initiated", slog.String("idempotency_key", key), slog.String("session_id", session.SessionID))
	return &Checkout{
		IdempotencyKey: key,
		SessionID:      session.SessionID,
		URL:            session.URL,
		ExpiresAt:      session.ExpiresAt,
	}, nil
}

// inFlight возвращает ошибку, если по плану уже идёт незавершённая оплата.
func (m *Manager) inFlight(sub *models.Subscription, plan models.Plan, now time.Time) error {
	rec, ok := sub.Attempt(sub.IdempotencyKey)
	if !ok || !rec.Status.Open() {
		return nil
	}
	if rec.Plan != "" && rec.Plan != plan {
		return nil
	}
	if sub.LastPaymentAttempt == nil || now.Sub(*sub.LastPaymentAttempt) >= m.cfg.PendingWindow {
		return nil
	}
	return apperr.Conflict(apperr.TypeCheckoutInProgress, "checkout for this plan is already in progress").
		WithDetails(map[string]any{
			"idempotencyKey": sub.IdempotencyKey,
			"sessionId":      rec.SessionID,
			"retryAfter":     sub.LastPaymentAttempt.Add(m.cfg.PendingWindow),
		})
}

// storePending создаёт подписку в ожидании оплаты или переводит существующую на новый ключ.
// У оплаченной подписки (в том числе отменённой, но ещё действующей) статус и даты сохраняются.
func (m *Manager) storePending(ctx context.Context, userID string, plan models.Plan, key, sessionID string, now time.Time) error {
	const op = "lifecycle.storePending"
	record := models.PaymentRecord{
		Date:           now,
		Status:         models.AttemptPending,
		SessionID:      sessionID,
		Amount:         plan.Amount(),
		IdempotencyKey: key,
		Plan:           plan,
	}

	for attempt := 0; attempt < 2; attempt++ {
		cur, err := m.store.GetSubscriptionByUser(ctx, userID)
		if errors.Is(err, storage.ErrSubscriptionNotFound) {
			sub := &models.Subscription{
				ID:                 uuid.NewString(),
				UserID:             userID,
				Currency:           m.cfg.Currency,
				IdempotencyKey:     key,
				SessionID:          sessionID,
				PaymentHistory:     []models.PaymentRecord{record},
				PaymentAttempts:    1,
				LastPaymentAttempt: &now,
				CreatedAt:          now,
			}
			setPending(sub, plan, now)
			err = m.store.CreateSubscription(ctx, sub)
			if errors.Is(err, storage.ErrSubscriptionExists) {
				continue
			}
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if inflight := m.inFlight(cur, plan, now); inflight != nil {
			return inflight
		}
		next := cur.Clone()
		next.IdempotencyKey = key
		next.SessionID = sessionID
		next.PaymentAttempts++
		next.LastPaymentAttempt = &now
		next.RecordAttempt(record)
		if cur.PaidThrough(now) {
			next.PaymentStatus = models.PaymentPending
			next.UpdatedAt = now
		} else {
			setPending(next, plan, now)
		}
		err = m.store.UpdateSubscriptionIf(ctx, storage.MatchOf(cur), next)
		if errors.Is(err, storage.ErrConditionFailed) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	return apperr.Conflict(apperr.TypeConcurrentUpdate, "subscription is being updated concurrently, retry later")
}

// setPending выставляет статус ожидания и предварительное окно плана.
// Окно пересчитывается при подтверждении оплаты.
func setPending(sub *models.Subscription, plan models.Plan, now time.Time) {
	sub.Plan = plan
	sub.Amount = plan.Amount()
	sub.Status = models.StatusPending
	sub.PaymentStatus = models.PaymentPending
	sub.FailureReason = ""
	sub.StartDate = now
	sub.EndDate = month.Add(now, plan.Months())
	sub.UpdatedAt = now
}

// ConfirmRenewal обновляет окно подписки по оплате, уже подтверждённой реконсилятором.
// Доступно и при истёкшем доступе.
func (m *Manager) ConfirmRenewal(ctx context.Context, userID string, plan models.Plan, key string) (*models.Subscription, error) {
	return m.reconciler.Renew(ctx, userID, plan, key)
}

// Verification результат проверки сессии оплаты.
type Verification struct {
	Status       models.SubscriptionStatus `json:"status"`
	Outcome      reconciler.Outcome        `json:"outcome,omitempty"`
	Pending      bool                      `json:"pending"`
	Subscription *models.Subscription      `json:"subscription,omitempty"`
}

// Verify запрашивает у провайдера состояние сессии пользователя и применяет его.
func (m *Manager) Verify(ctx context.Context, userID, sessionID string) (*Verification, error) {
	const op = "lifecycle.Verify"
	state, err := m.checkoutState(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if state.UserID != userID {
		return nil, apperr.NotFound(apperr.TypeSubscriptionNotFound, "checkout session not found")
	}
	return m.apply(ctx, state, models.SourceVerify)
}

// ConfirmRedirect применяет состояние сессии после возврата браузера со страницы оплаты.
// Сессия сама несёт владельца в метаданных, поэтому токен не требуется.
func (m *Manager) ConfirmRedirect(ctx context.Context, sessionID string) (*Verification, error) {
	const op = "lifecycle.ConfirmRedirect"
	state, err := m.checkoutState(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	return m.apply(ctx, state, models.SourceRedirect)
}

// CancelCheckout обрабатывает отказ от оплаты: открытая сессия закрывается у провайдера,
// попытка отмечается отменённой. Если оплата успела пройти, применяется она.
func (m *Manager) CancelCheckout(ctx context.Context, sessionID string) (*Verification, error) {
	const op = "lifecycle.CancelCheckout"
	state, err := m.checkoutState(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Paid || state.Status != paymentprovider.SessionOpen {
		return m.apply(ctx, state, models.SourceRedirect)
	}

	expired, err := m.provider.ExpireCheckout(ctx, sessionID)
	if err != nil {
		m.log.Warn("failed to expire checkout session", slog.String("op", op), sl.Err(err))
		return nil, providerError(err)
	}
	if expired.Paid {
		return m.apply(ctx, expired, models.SourceRedirect)
	}
	return m.reconcile(ctx, models.PaymentEvent{
		Type:           models.EventPaymentCanceled,
		UserID:         state.UserID,
		Plan:           state.Plan,
		IdempotencyKey: state.IdempotencyKey,
		SessionID:      state.SessionID,
		Source:         models.SourceRedirect,
	})
}

func (m *Manager) checkoutState(ctx context.Context, op, sessionID string) (*paymentprovider.CheckoutState, error) {
	if sessionID == "" {
		return nil, apperr.Validation(apperr.TypeValidation, "session id is required")
	}
	if state, ok := m.cachedState(ctx, sessionID); ok {
		return state, nil
	}
	state, err := m.provider.GetCheckout(ctx, sessionID)
	if err != nil {
		m.log.Error("failed to fetch checkout session", slog.String("op", op), sl.Err(err))
		return nil, providerError(err)
	}
	if state.UserID == "" || state.IdempotencyKey == "" {
		return nil, apperr.External(apperr.TypePaymentProvider, "checkout session has no subscription metadata", nil)
	}
	// Завершённая или истёкшая сессия у провайдера больше не меняется.
	if m.sessions != nil && state.Status != paymentprovider.SessionOpen {
		if err := m.sessions.Set(ctx, cache.CheckoutStateKey(sessionID), state, sessionStateTTL); err != nil {
			m.log.Warn("failed to cache checkout session", slog.String("op", op), sl.Err(err))
		}
	}
	return state, nil
}

func (m *Manager) cachedState(ctx context.Context, sessionID string) (*paymentprovider.CheckoutState, bool) {
	if m.sessions == nil {
		return nil, false
	}
	var state paymentprovider.CheckoutState
	found, err := m.sessions.Get(ctx, cache.CheckoutStateKey(sessionID), &state)
	if err != nil {
		m.log.Warn("failed to read cached checkout session", slog.String("session_id", sessionID), sl.Err(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &state, true
}

func (m *Manager) apply(ctx context.Context, state *paymentprovider.CheckoutState, source models.EventSource) (*Verification, error) {
	ev, ok := state.Event(source)
	if !ok {
		sub, err := m.store.GetSubscriptionByUser(ctx, state.UserID)
		if err != nil {
			return nil, subscriptionError("lifecycle.apply", err)
		}
		return &Verification{Status: sub.Status, Pending: true, Subscription: sub}, nil
	}
	return m.reconcile(ctx, ev)
}

func (m *Manager) reconcile(ctx context.Context, ev models.PaymentEvent) (*Verification, error) {
	res, err := m.reconciler.Reconcile(ctx, ev)
	if err != nil {
		return nil, err
	}
	state, _ := res.Subscription.AttemptState(ev.IdempotencyKey)
	return &Verification{
		Status:       res.Subscription.Status,
		Outcome:      res.Outcome,
		Pending:      state.Open(),
		Subscription: res.Subscription,
	}, nil
}

// Cancel отменяет действующую подписку. Доступ сохраняется до даты окончания.
func (m *Manager) Cancel(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "lifecycle.Cancel"
	log := m.log.With(slog.String("op", op), slog.String("user_id", userID))

	for attempt := 0; attempt < 2; attempt++ {
		cur, err := m.store.GetSubscriptionByUser(ctx, userID)
		if err != nil {
			return nil, subscriptionError(op, err)
		}
		now := m.now().UTC()
		if !cur.ActiveAt(now) {
			return nil, apperr.NotFound(apperr.TypeSubscriptionNotFound, "no active subscription to cancel")
		}
		next := cur.Clone()
		next.Status = models.StatusCancelled
		next.UpdatedAt = now
		err = m.store.UpdateSubscriptionIf(ctx, storage.MatchOf(cur), next)
		if errors.Is(err, storage.ErrConditionFailed) {
			continue
		}
		if err != nil {
			log.Error("failed to cancel subscription", sl.Err(err))
			return nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
		}
		log.Info("subscription cancelled", slog.Time("end_date", next.EndDate))
		m.publish(ctx, models.EventSubscriptionCancelled, next)
		return next, nil
	}
	return nil, apperr.Conflict(apperr.TypeConcurrentUpdate, "subscription is being updated concurrently, retry later")
}

// Get возвращает подписку пользователя и состояние доступа.
func (m *Manager) Get(ctx context.Context, userID string) (*models.Subscription, access.Status, error) {
	const op = "lifecycle.Get"
	account, err := m.store.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, access.Status{}, accountError(op, err)
	}
	status := access.StatusOf(account, m.now().UTC())
	sub, err := m.store.GetSubscriptionByUser(ctx, userID)
	if errors.Is(err, storage.ErrSubscriptionNotFound) {
		return nil, status, nil
	}
	if err != nil {
		return nil, status, apperr.Internal(fmt.Errorf("%s: %w", op, err))
	}
	return sub, status, nil
}

// SweepReport итог пакетной обработки.
type SweepReport struct {
	Processed int
	Skipped   int
	Failed    int
}

// ExpireStale отмечает истёкшими попытки оплаты, которые ждут дольше StaleAfter.
// Каждая попытка проходит через реконсилятор как CheckoutExpired.
func (m *Manager) ExpireStale(ctx context.Context) (SweepReport, error) {
	const op = "lifecycle.ExpireStale"
	log := m.log.With(slog.String("op", op))
	var report SweepReport

	before := m.now().UTC().Add(-m.cfg.StaleAfter)
	subs, err := m.store.ListStalePending(ctx, before)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return report, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if applied, err := m.settleWithProvider(ctx, sub); applied {
			if err != nil {
				report.Failed++
				log.Warn("failed to apply late payment", slog.String("subscription_id", sub.ID), sl.Err(err))
				continue
			}
			report.Processed++
			continue
		}
		res, err := m.reconciler.Reconcile(ctx, models.PaymentEvent{
			Type:           models.EventCheckoutExpired,
			UserID:         sub.UserID,
			IdempotencyKey: sub.IdempotencyKey,
			SessionID:      sub.SessionID,
			Source:         models.SourceSweeper,
		})
		if err != nil {
			report.Failed++
			log.Warn("failed to expire stale checkout", slog.String("subscription_id", sub.ID), sl.Err(err))
			continue
		}
		if res.Outcome == reconciler.OutcomeApplied {
			report.Processed++
		} else {
			report.Skipped++
		}
	}
	return report, nil
}

// settleWithProvider сверяет брошенную попытку с провайдером. Если оплата прошла,
// а событие потерялось, применяет её и возвращает true. Открытую сессию закрывает.
func (m *Manager) settleWithProvider(ctx context.Context, sub *models.Subscription) (bool, error) {
	if m.provider == nil || !m.provider.Configured() || sub.SessionID == "" {
		return false, nil
	}
	state, err := m.provider.GetCheckout(ctx, sub.SessionID)
	if err != nil {
		m.log.Debug("failed to fetch stale checkout session", slog.String("session_id", sub.SessionID), sl.Err(err))
		return false, nil
	}
	if state.Paid {
		_, err := m.apply(ctx, state, models.SourceSweeper)
		return true, err
	}
	if state.Status == paymentprovider.SessionOpen {
		if _, err := m.provider.ExpireCheckout(ctx, sub.SessionID); err != nil {
			m.log.Debug("failed to expire stale checkout session", slog.String("session_id", sub.SessionID), sl.Err(err))
		}
	}
	return false, nil
}

// ExpireLapsed переводит подписки с прошедшей датой окончания в expired
// и снимает признак подписки в учётной записи.
func (m *Manager) ExpireLapsed(ctx context.Context) (SweepReport, error) {
	const op = "lifecycle.ExpireLapsed"
	log := m.log.With(slog.String("op", op))
	var report SweepReport

	now := m.now().UTC()
	subs, err := m.store.ListLapsedActive(ctx, now)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return report, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		next := sub.Clone()
		next.Status = models.StatusExpired
		next.UpdatedAt = now
		err := m.store.UpdateSubscriptionIf(ctx, storage.MatchOf(sub), next)
		if errors.Is(err, storage.ErrConditionFailed) {
			report.Skipped++
			continue
		}
		if err != nil {
			report.Failed++
			log.Warn("failed to expire subscription", slog.String("subscription_id", sub.ID), sl.Err(err))
			continue
		}

		_, err = m.store.UpdateAccount(ctx, sub.UserID, func(a *models.Account) error {
			if !a.IsSubscribed || (a.SubscriptionEndDate != nil && a.SubscriptionEndDate.After(now)) {
				return storage.ErrNoChange
			}
			a.IsSubscribed = false
			return nil
		})
		if err != nil && !errors.Is(err, storage.ErrAccountNotFound) {
			report.Failed++
			log.Warn("failed to clear subscription flag", slog.String("user_id", sub.UserID), sl.Err(err))
			continue
		}
		report.Processed++
		m.publish(ctx, models.EventSubscriptionExpired, next)
	}
	return report, nil
}

func (m *Manager) publish(ctx context.Context, name string, sub *models.Subscription) {
	if m.publisher == nil {
		return
	}
	err := m.publisher.Publish(ctx, models.DomainEvent{
		Name:       name,
		UserID:     sub.UserID,
		Plan:       sub.Plan,
		OccurredAt: m.now().UTC(),
		Data: map[string]any{
			"subscriptionId": sub.ID,
			"endDate":        sub.EndDate,
		},
	})
	if err != nil {
		m.log.Warn("failed to publish domain event", slog.String("event", name), sl.Err(err))
	}
}

func (m *Manager) record(plan models.Plan, result string) {
	if m.metrics != nil {
		m.metrics.Checkout(string(plan), result)
	}
}

func accountError(op string, err error) error {
	if errors.Is(err, storage.ErrAccountNotFound) {
		return apperr.NotFound(apperr.TypeUserNotFound, "user not found")
	}
	return apperr.Internal(fmt.Errorf("%s: %w", op, err))
}

func subscriptionError(op string, err error) error {
	if errors.Is(err, storage.ErrSubscriptionNotFound) {
		return apperr.NotFound(apperr.TypeSubscriptionNotFound, "subscription not found")
	}
	return apperr.Internal(fmt.Errorf("%s: %w", op, err))
}

func providerError(err error) error {
	if errors.Is(err, paymentprovider.ErrNotConfigured) {
		return apperr.External(apperr.TypePaymentNotConfigured, "payment provider is not configured", err)
	}
	return apperr.External(apperr.TypePaymentProvider, "payment provider request failed", err)
}
