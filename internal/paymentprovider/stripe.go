package paymentprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/magabrotheeeer/pricegate/internal/models"
)

// minSessionLifetime минимальный срок жизни сессии Checkout, который принимает Stripe.
const minSessionLifetime = 30 * time.Minute

// StripeConfig параметры клиента Stripe.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	// SessionTTL срок жизни сессии оплаты; меньше 30 минут Stripe не принимает.
	SessionTTL time.Duration
	// Backend позволяет подменить транспорт в тестах.
	Backend stripe.Backend
}

// Stripe клиент Stripe Checkout.
type Stripe struct {
	sessions      *session.Client
	webhookSecret string
	successURL    string
	cancelURL     string
	sessionTTL    time.Duration
}

// NewStripe создаёт клиента. Без секретного ключа создание сессий возвращает ErrNotConfigured,
// без секрета вебхука так же отвечает ParseWebhook.
func NewStripe(cfg StripeConfig) *Stripe {
	s := &Stripe{
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		sessionTTL:    cfg.SessionTTL,
	}
	if s.sessionTTL < minSessionLifetime {
		s.sessionTTL = minSessionLifetime
	}
	if cfg.SecretKey != "" {
		backend := cfg.Backend
		if backend == nil {
			backend = stripe.GetBackend(stripe.APIBackend)
		}
		s.sessions = &session.Client{B: backend, Key: cfg.SecretKey}
	}
	return s
}

// Configured сообщает, задан ли секретный ключ.
func (s *Stripe) Configured() bool {
	return s != nil && s.sessions != nil
}

// CreateCheckout создаёт сессию оплаты одного периода выбранного плана.
// Ключ идемпотентности передаётся в Stripe, поэтому повтор запроса не создаёт вторую сессию.
func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	const op = "paymentprovider.Stripe.CreateCheckout"
	if !s.Configured() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	metadata := map[string]string{
		MetaUserID:         req.UserID,
		MetaPlan:           string(req.Plan),
		MetaIdempotencyKey: req.IdempotencyKey,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(s.cancelURL + "?session_id={CHECKOUT_SESSION_ID}"),
		ClientReferenceID: stripe.String(req.UserID),
		ExpiresAt:         stripe.Int64(time.Now().Add(s.sessionTTL).Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Subscription (%s)", req.Plan)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
		Metadata: metadata,
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, describe(err))
	}
	return &CheckoutSession{
		SessionID: sess.ID,
		URL:       sess.URL,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC(),
	}, nil
}

// GetCheckout читает сессию вместе с платежом.
func (s *Stripe) GetCheckout(ctx context.Context, sessionID string) (*CheckoutState, error) {
	const op = "paymentprovider.Stripe.GetCheckout"
	if !s.Configured() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	sess, err := s.sessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, describe(err))
	}
	return stateFromSession(sess), nil
}

// ExpireCheckout закрывает открытую сессию, чтобы по ней больше нельзя было заплатить.
func (s *Stripe) ExpireCheckout(ctx context.Context, sessionID string) (*CheckoutState, error) {
	const op = "paymentprovider.Stripe.ExpireCheckout"
	if !s.Configured() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	sess, err := s.sessions.Expire(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, describe(err))
	}
	return stateFromSession(sess), nil
}

func stateFromSession(sess *stripe.CheckoutSession) *CheckoutState {
	st := &CheckoutState{
		SessionID:      sess.ID,
		UserID:         sess.Metadata[MetaUserID],
		Plan:           models.Plan(sess.Metadata[MetaPlan]),
		IdempotencyKey: sess.Metadata[MetaIdempotencyKey],
		Status:         string(sess.Status),
		Paid: sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
		AmountTotal: sess.AmountTotal,
	}
	if st.UserID == "" {
		st.UserID = sess.ClientReferenceID
	}
	if pi := sess.PaymentIntent; pi != nil {
		st.FailureCode = failureCode(pi)
		st.Canceled = pi.Status == stripe.PaymentIntentStatusCanceled
	}
	return st
}

func failureCode(pi *stripe.PaymentIntent) string {
	if pi.LastPaymentError == nil {
		return ""
	}
	if pi.LastPaymentError.DeclineCode != "" {
		return string(pi.LastPaymentError.DeclineCode)
	}
	return string(pi.LastPaymentError.Code)
}

// ParseWebhook проверяет подпись и переводит событие Stripe в событие реконсилятора.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	const op = "paymentprovider.Stripe.ParseWebhook"
	if s == nil || s.webhookSecret == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, ProviderType: string(event.Type)}
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
		var sess stripe.CheckoutSession
		if err = json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out.Event, out.IgnoreReason = sessionEvent(string(event.Type), &sess)
	case "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err = json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out.Event, out.IgnoreReason = intentEvent(string(event.Type), &pi)
	default:
		out.IgnoreReason = "unhandled event type"
	}
	return out, nil
}

func sessionEvent(eventType string, sess *stripe.CheckoutSession) (*models.PaymentEvent, string) {
	st := stateFromSession(sess)
	if st.IdempotencyKey == "" {
		return nil, "session has no idempotency key"
	}
	ev := &models.PaymentEvent{
		UserID:         st.UserID,
		Plan:           st.Plan,
		IdempotencyKey: st.IdempotencyKey,
		SessionID:      st.SessionID,
		Source:         models.SourceWebhook,
	}
	switch eventType {
	case "checkout.session.completed":
		if !st.Paid {
			return nil, "payment is still processing"
		}
		ev.Type = models.EventCheckoutCompleted
		ev.AmountPaid = st.AmountTotal
	case "checkout.session.async_payment_succeeded":
		ev.Type = models.EventCheckoutCompleted
		ev.AmountPaid = st.AmountTotal
	case "checkout.session.async_payment_failed":
		ev.Type = models.EventPaymentFailed
		ev.FailureCode = st.FailureCode
	case "checkout.session.expired":
		ev.Type = models.EventCheckoutExpired
	}
	return ev, ""
}

func intentEvent(eventType string, pi *stripe.PaymentIntent) (*models.PaymentEvent, string) {
	key := pi.Metadata[MetaIdempotencyKey]
	if key == "" {
		return nil, "payment intent has no idempotency key"
	}
	ev := &models.PaymentEvent{
		UserID:         pi.Metadata[MetaUserID],
		Plan:           models.Plan(pi.Metadata[MetaPlan]),
		IdempotencyKey: key,
		Source:         models.SourceWebhook,
	}
	if eventType == "payment_intent.canceled" {
		ev.Type = models.EventPaymentCanceled
	} else {
		// Stripe шлёт payment_failed на каждую отклонённую карту, сессия при этом остаётся открытой.
		ev.Type = models.EventPaymentDeclined
		ev.FailureCode = failureCode(pi)
	}
	return ev, ""
}

func describe(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return fmt.Errorf("stripe %s: %s: %w", stripeErr.Type, stripeErr.Msg, err)
	}
	return err
}
