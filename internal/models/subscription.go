package models

import (
	"errors"
	"time"
)

// SubscriptionStatus статус канонической записи подписки.
type SubscriptionStatus string

const (
	StatusPending          SubscriptionStatus = "pending"
	StatusActive           SubscriptionStatus = "active"
	StatusCancelled        SubscriptionStatus = "cancelled"
	StatusExpired          SubscriptionStatus = "expired"
	StatusPaymentFailed    SubscriptionStatus = "payment_failed"
	StatusPaymentCancelled SubscriptionStatus = "payment_cancelled"
)

// PaymentStatus статус последней попытки оплаты.
type PaymentStatus string

const (
	PaymentPending               PaymentStatus = "pending"
	PaymentSucceeded             PaymentStatus = "succeeded"
	PaymentCanceled              PaymentStatus = "canceled"
	PaymentFailed                PaymentStatus = "failed"
	PaymentRequiresPaymentMethod PaymentStatus = "requires_payment_method"
	PaymentRequiresAction        PaymentStatus = "requires_action"
)

// AttemptStatus состояние одной попытки оплаты, идентифицируемой ключом идемпотентности.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptDeclined  AttemptStatus = "declined"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptCanceled  AttemptStatus = "canceled"
	AttemptExpired   AttemptStatus = "expired"
)

// Terminal сообщает, что из этого состояния попытка больше не переходит.
// Отклонённая карта не завершает попытку: в той же сессии можно оплатить другой картой.
func (s AttemptStatus) Terminal() bool {
	return s != "" && !s.Open()
}

// Open сообщает, что попытка ещё ждёт оплаты.
func (s AttemptStatus) Open() bool {
	return s == AttemptPending || s == AttemptDeclined
}

// ErrInvalidWindow возвращается, если дата окончания подписки не позже даты начала.
var ErrInvalidWindow = errors.New("subscription end date must be after start date")

// PaymentRecord запись журнала платежей. Журнал только дополняется;
// единственная допустимая правка: смена статуса последней записи с тем же ключом.
type PaymentRecord struct {
	Date           time.Time     `json:"date" bson:"date"`
	Status         AttemptStatus `json:"status" bson:"status"`
	SessionID      string        `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	Amount         int64         `json:"amount" bson:"amount"`
	FailureReason  FailureReason `json:"failureReason,omitempty" bson:"failureReason,omitempty"`
	IdempotencyKey string        `json:"idempotencyKey" bson:"idempotencyKey"`
	Plan           Plan          `json:"plan,omitempty" bson:"plan,omitempty"`
}

// Subscription каноническая запись плана и оплаты, одна на пользователя.
type Subscription struct {
	ID            string             `json:"id" bson:"_id"`
	UserID        string             `json:"userId" bson:"userId"`
	Plan          Plan               `json:"plan" bson:"plan"`
	Amount        int64              `json:"amount" bson:"amount"`
	Currency      string             `json:"currency" bson:"currency"`
	Status        SubscriptionStatus `json:"status" bson:"status"`
	PaymentStatus PaymentStatus      `json:"paymentStatus" bson:"paymentStatus"`
	FailureReason FailureReason      `json:"failureReason,omitempty" bson:"failureReason,omitempty"`

	StartDate time.Time  `json:"startDate" bson:"startDate"`
	EndDate   time.Time  `json:"endDate" bson:"endDate"`
	TrialEnd  *time.Time `json:"trialEnd,omitempty" bson:"trialEnd,omitempty"`

	IdempotencyKey string          `json:"idempotencyKey,omitempty" bson:"idempotencyKey,omitempty"`
	SessionID      string          `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	PaymentHistory []PaymentRecord `json:"paymentHistory" bson:"paymentHistory"`

	PaymentAttempts    int        `json:"paymentAttempts" bson:"paymentAttempts"`
	LastPaymentAttempt *time.Time `json:"lastPaymentAttempt,omitempty" bson:"lastPaymentAttempt,omitempty"`
	LastPaymentDate    *time.Time `json:"lastPaymentDate,omitempty" bson:"lastPaymentDate,omitempty"`

	Version   int64     `json:"version" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Validate проверяет инварианты записи перед сохранением.
func (s *Subscription) Validate() error {
	if !s.EndDate.After(s.StartDate) {
		return ErrInvalidWindow
	}
	return nil
}

// lastAttempt возвращает индекс последней записи журнала с данным ключом или -1.
func (s *Subscription) lastAttempt(key string) int {
	for i := len(s.PaymentHistory) - 1; i >= 0; i-- {
		if s.PaymentHistory[i].IdempotencyKey == key {
			return i
		}
	}
	return -1
}

// AttemptState возвращает состояние попытки оплаты с данным ключом.
func (s *Subscription) AttemptState(key string) (AttemptStatus, bool) {
	i := s.lastAttempt(key)
	if i < 0 {
		return "", false
	}
	return s.PaymentHistory[i].Status, true
}

// Attempt возвращает последнюю запись журнала с данным ключом.
func (s *Subscription) Attempt(key string) (PaymentRecord, bool) {
	i := s.lastAttempt(key)
	if i < 0 {
		return PaymentRecord{}, false
	}
	return s.PaymentHistory[i], true
}

// HasSucceededSession сообщает, есть ли в журнале успешная запись для сессии оплаты.
func (s *Subscription) HasSucceededSession(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	for _, rec := range s.PaymentHistory {
		if rec.SessionID == sessionID && rec.Status == AttemptSucceeded {
			return true
		}
	}
	return false
}

// RecordAttempt меняет статус последней незавершённой записи с тем же ключом
// либо дописывает новую запись в конец журнала.
func (s *Subscription) RecordAttempt(rec PaymentRecord) {
	if i := s.lastAttempt(rec.IdempotencyKey); i >= 0 && s.PaymentHistory[i].Status.Open() {
		prev := s.PaymentHistory[i]
		if rec.SessionID == "" {
			rec.SessionID = prev.SessionID
		}
		if rec.Amount == 0 {
			rec.Amount = prev.Amount
		}
		if rec.Plan == "" {
			rec.Plan = prev.Plan
		}
		s.PaymentHistory[i] = rec
		return
	}
	s.PaymentHistory = append(s.PaymentHistory, rec)
}

// WindowApplied сообщает, что окно по оплате rec уже выставлено этой или более поздней оплатой.
func (s *Subscription) WindowApplied(rec PaymentRecord) bool {
	return s.LastPaymentDate != nil && !s.LastPaymentDate.Before(rec.Date)
}

// ActiveAt сообщает, действует ли оплаченная подписка в момент now.
func (s *Subscription) ActiveAt(now time.Time) bool {
	return s.Status == StatusActive && s.EndDate.After(now)
}

// PaidThrough сообщает, что оплаченный период ещё идёт, включая отменённую подписку,
// доступ по которой сохраняется до даты окончания.
func (s *Subscription) PaidThrough(now time.Time) bool {
	return (s.Status == StatusActive || s.Status == StatusCancelled) && s.EndDate.After(now)
}

// Clone возвращает глубокую копию записи.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.TrialEnd = cloneTime(s.TrialEnd)
	c.LastPaymentAttempt = cloneTime(s.LastPaymentAttempt)
	c.LastPaymentDate = cloneTime(s.LastPaymentDate)
	if s.PaymentHistory != nil {
		c.PaymentHistory = make([]PaymentRecord, len(s.PaymentHistory))
		copy(c.PaymentHistory, s.PaymentHistory)
	}
	return &c
}
