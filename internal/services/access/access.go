// Package access решает, есть ли у учётной записи доступ к данным API.
//
// Решение вычисляется заново на каждый запрос: состояние подписки меняется
// асинхронно через события оплаты, поэтому результат нигде не кэшируется.
package access

import (
	"time"

	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/lib/month"
	"github.com/magabrotheeeer/pricegate/internal/models"
)

// Reason основание решения о доступе.
type Reason string

const (
	ReasonActiveSubscription  Reason = "active_subscription"
	ReasonTrialActive         Reason = "trial_active"
	ReasonTrialExpired        Reason = "trial_expired"
	ReasonSubscriptionExpired Reason = "subscription_expired"
)

// Decision результат проверки доступа.
// DaysRemaining равен nil для пробного периода без даты окончания и при отказе.
type Decision struct {
	AccessAllowed bool   `json:"accessAllowed"`
	Reason        Reason `json:"reason"`
	DaysRemaining *int   `json:"daysRemaining"`
}

// Evaluate применяет правила по порядку: действующая подписка, затем пробный период.
// Пробный период без даты окончания считается бессрочным.
func Evaluate(a *models.Account, now time.Time) Decision {
	if a.IsSubscribed && a.SubscriptionEndDate != nil && a.SubscriptionEndDate.After(now) {
		days := month.DaysLeft(now, *a.SubscriptionEndDate)
		return Decision{AccessAllowed: true, Reason: ReasonActiveSubscription, DaysRemaining: &days}
	}
	if a.IsTrial && (a.TrialEndsAt == nil || a.TrialEndsAt.After(now)) {
		d := Decision{AccessAllowed: true, Reason: ReasonTrialActive}
		if a.TrialEndsAt != nil {
			days := month.DaysLeft(now, *a.TrialEndsAt)
			d.DaysRemaining = &days
		}
		return d
	}
	return Decision{AccessAllowed: false, Reason: deniedReason(a)}
}

// deniedReason: истёкший пробный период называется так, только если платной подписки не было.
func deniedReason(a *models.Account) Reason {
	if a.IsSubscribed || a.SubscriptionEndDate != nil {
		return ReasonSubscriptionExpired
	}
	if a.TrialEndsAt != nil {
		return ReasonTrialExpired
	}
	return ReasonSubscriptionExpired
}

// Status развёрнутое состояние доступа для ответов клиенту.
type Status struct {
	HasActiveSubscription  bool   `json:"hasActiveSubscription"`
	IsInTrial              bool   `json:"isInTrial"`
	TrialExpired           bool   `json:"trialExpired"`
	SubscriptionExpired    bool   `json:"subscriptionExpired"`
	DaysLeftInTrial        *int   `json:"daysLeftInTrial"`
	DaysLeftInSubscription *int   `json:"daysLeftInSubscription"`
	AccessAllowed          bool   `json:"accessAllowed"`
	Reason                 Reason `json:"reason"`
	SubscriptionPlan       string `json:"subscriptionPlan,omitempty"`
}

// StatusOf строит Status по решению Evaluate.
func StatusOf(a *models.Account, now time.Time) Status {
	d := Evaluate(a, now)
	st := Status{
		AccessAllowed:    d.AccessAllowed,
		Reason:           d.Reason,
		SubscriptionPlan: string(a.SubscriptionPlan),
	}
	switch d.Reason {
	case ReasonActiveSubscription:
		st.HasActiveSubscription = true
		st.DaysLeftInSubscription = d.DaysRemaining
	case ReasonTrialActive:
		st.IsInTrial = true
		st.DaysLeftInTrial = d.DaysRemaining
	case ReasonTrialExpired:
		st.TrialExpired = true
	case ReasonSubscriptionExpired:
		st.SubscriptionExpired = true
	}
	return st
}

// Recorder учитывает принятые решения.
type Recorder interface {
	AccessDecision(allowed bool, reason string)
}

// Evaluator проверяет доступ на запросах к закрытым маршрутам.
type Evaluator struct {
	metrics Recorder
	now     func() time.Time
}

// NewEvaluator создаёт Evaluator. metrics может быть nil.
func NewEvaluator(metrics Recorder) *Evaluator {
	return &Evaluator{metrics: metrics, now: time.Now}
}

// Status вычисляет состояние доступа на текущий момент.
func (e *Evaluator) Status(a *models.Account) Status {
	st := StatusOf(a, e.now().UTC())
	if e.metrics != nil {
		e.metrics.AccessDecision(st.AccessAllowed, string(st.Reason))
	}
	return st
}

// Check возвращает состояние доступа или ошибку AUTHORIZATION с кодом
// TRIAL_EXPIRED или SUBSCRIPTION_EXPIRED. Администраторы проходят всегда.
func (e *Evaluator) Check(a *models.Account) (Status, error) {
	st := e.Status(a)
	if st.AccessAllowed || a.IsAdmin() {
		return st, nil
	}

	details := map[string]any{"reason": st.Reason}
	if a.TrialEndsAt != nil {
		details["trialEndsAt"] = a.TrialEndsAt
	}
	if a.SubscriptionEndDate != nil {
		details["subscriptionEndDate"] = a.SubscriptionEndDate
	}
	if st.Reason == ReasonTrialExpired {
		return st, apperr.Authorization(apperr.TypeTrialExpired,
			"trial expired, please subscribe to continue").WithDetails(details)
	}
	return st, apperr.Authorization(apperr.TypeSubscriptionExpired,
		"subscription expired, please renew to continue").WithDetails(details)
}
