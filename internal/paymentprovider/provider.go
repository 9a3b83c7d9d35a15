// Package paymentprovider связывает сервис с Stripe Checkout: создаёт сессии оплаты,
// читает их состояние и переводит вебхуки Stripe в события реконсилятора.
package paymentprovider

import (
	"errors"
	"time"

	"github.com/magabrotheeeer/pricegate/internal/models"
)

// Ключи метаданных сессии и платежа.
const (
	MetaUserID         = "user_id"
	MetaPlan           = "plan"
	MetaIdempotencyKey = "idempotency_key"
)

var (
	// ErrNotConfigured ключи Stripe не заданы.
	ErrNotConfigured = errors.New("payment provider is not configured")
	// ErrInvalidSignature подпись вебхука не прошла проверку.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// CheckoutRequest параметры новой сессии оплаты.
type CheckoutRequest struct {
	UserID         string
	Email          string
	Plan           models.Plan
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// CheckoutSession созданная сессия, которую клиент открывает для оплаты.
type CheckoutSession struct {
	SessionID string    `json:"sessionId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Состояния сессии оплаты.
const (
	SessionOpen     = "open"
	SessionComplete = "complete"
	SessionExpired  = "expired"
)

// CheckoutState снимок сессии оплаты у провайдера.
type CheckoutState struct {
	SessionID      string
	UserID         string
	Plan           models.Plan
	IdempotencyKey string
	Status         string
	Paid           bool
	AmountTotal    int64
	FailureCode    string
	Canceled       bool
}

// Event переводит снимок сессии в событие реконсилятора.
// Для открытой сессии без ошибки оплаты событие не формируется.
// Ошибка оплаты в открытой сессии означает отклонённую карту, а не завершение попытки.
func (s *CheckoutState) Event(source models.EventSource) (models.PaymentEvent, bool) {
	ev := models.PaymentEvent{
		UserID:         s.UserID,
		Plan:           s.Plan,
		IdempotencyKey: s.IdempotencyKey,
		SessionID:      s.SessionID,
		Source:         source,
	}
	switch {
	case s.Paid:
		ev.Type = models.EventCheckoutCompleted
		ev.AmountPaid = s.AmountTotal
	case s.Status == SessionExpired:
		ev.Type = models.EventCheckoutExpired
	case s.Canceled:
		ev.Type = models.EventPaymentCanceled
	case s.FailureCode != "" && s.Status == SessionOpen:
		ev.Type = models.EventPaymentDeclined
		ev.FailureCode = s.FailureCode
	case s.FailureCode != "":
		ev.Type = models.EventPaymentFailed
		ev.FailureCode = s.FailureCode
	default:
		return ev, false
	}
	return ev, true
}

// WebhookEvent результат разбора вебхука. Event равен nil, если тип события не влияет на подписку.
type WebhookEvent struct {
	ID           string
	ProviderType string
	Event        *models.PaymentEvent
	IgnoreReason string
}
