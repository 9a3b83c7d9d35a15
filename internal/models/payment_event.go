package models

import "strings"

// EventType тип события жизненного цикла оплаты.
type EventType string

const (
	EventCheckoutCompleted EventType = "checkout_completed"
	EventCheckoutExpired   EventType = "checkout_expired"
	EventPaymentFailed     EventType = "payment_failed"
	EventPaymentDeclined   EventType = "payment_declined"
	EventPaymentCanceled   EventType = "payment_canceled"
)

// Valid сообщает, известен ли тип события.
func (t EventType) Valid() bool {
	switch t {
	case EventCheckoutCompleted, EventCheckoutExpired, EventPaymentFailed, EventPaymentDeclined, EventPaymentCanceled:
		return true
	}
	return false
}

// EventSource канал, по которому событие пришло в реконсилятор.
type EventSource string

const (
	SourceWebhook  EventSource = "webhook"
	SourceRedirect EventSource = "redirect"
	SourceVerify   EventSource = "verify"
	SourceSweeper  EventSource = "sweeper"
)

// PaymentEvent нормализованное событие платёжного провайдера.
type PaymentEvent struct {
	Type           EventType   `json:"type"`
	UserID         string      `json:"userId"`
	Plan           Plan        `json:"plan,omitempty"`
	IdempotencyKey string      `json:"idempotencyKey"`
	SessionID      string      `json:"sessionId,omitempty"`
	AmountPaid     int64       `json:"amountPaid,omitempty"`
	FailureCode    string      `json:"failureCode,omitempty"`
	Source         EventSource `json:"source,omitempty"`
}

// FailureReason причина неудачной оплаты в закрытой таксономии.
type FailureReason string

const (
	FailureCardDeclined           FailureReason = "card_declined"
	FailureExpiredCard            FailureReason = "expired_card"
	FailureInsufficientFunds      FailureReason = "insufficient_funds"
	FailureAuthenticationRequired FailureReason = "authentication_required"
	FailureNetworkError           FailureReason = "network_error"
	FailureUserCanceled           FailureReason = "user_canceled"
	FailureUnknown                FailureReason = "unknown"
)

var failureCodes = map[string]FailureReason{
	"card_declined":                         FailureCardDeclined,
	"generic_decline":                       FailureCardDeclined,
	"do_not_honor":                          FailureCardDeclined,
	"lost_card":                             FailureCardDeclined,
	"stolen_card":                           FailureCardDeclined,
	"fraudulent":                            FailureCardDeclined,
	"pickup_card":                           FailureCardDeclined,
	"expired_card":                          FailureExpiredCard,
	"insufficient_funds":                    FailureInsufficientFunds,
	"authentication_required":               FailureAuthenticationRequired,
	"payment_intent_authentication_failure": FailureAuthenticationRequired,
	"card_velocity_exceeded":                FailureCardDeclined,
	"processing_error":                      FailureNetworkError,
	"api_connection_error":                  FailureNetworkError,
	"rate_limit":                            FailureNetworkError,
	"network_error":                         FailureNetworkError,
	"user_canceled":                         FailureUserCanceled,
	"canceled":                              FailureUserCanceled,
	"abandoned":                             FailureUserCanceled,
}

// FailureReasonFromCode отображает код ошибки провайдера в таксономию причин.
func FailureReasonFromCode(code string) FailureReason {
	if reason, ok := failureCodes[strings.ToLower(strings.TrimSpace(code))]; ok {
		return reason
	}
	return FailureUnknown
}
