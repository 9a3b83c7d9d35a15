package models

import "time"

// Имена доменных событий, публикуемых в брокер.
const (
	EventSubscriptionActivated        = "subscription.activated"
	EventSubscriptionPaymentFailed    = "subscription.payment_failed"
	EventSubscriptionPaymentCancelled = "subscription.payment_cancelled"
	EventSubscriptionExpired          = "subscription.expired"
	EventSubscriptionCancelled        = "subscription.cancelled"
	EventAccountRegistered            = "account.registered"
	EventTrialExpiring                = "trial.expiring"
)

// DomainEvent уведомление об изменении состояния для внешних потребителей.
type DomainEvent struct {
	Name       string         `json:"event"`
	UserID     string         `json:"userId"`
	Email      string         `json:"email,omitempty"`
	Plan       Plan           `json:"plan,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}
