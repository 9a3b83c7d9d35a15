// Package storage содержит общие для всех хранилищ ошибки и условие
// атомарного обновления подписки. Реализации лежат в подпакетах:
// repository (PostgreSQL), mongostore (MongoDB) и memory.
package storage

import (
	"errors"

	"github.com/magabrotheeeer/pricegate/internal/models"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrEmailTaken           = errors.New("email already registered")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists for user")
	ErrIdempotencyKeyTaken  = errors.New("idempotency key already in use")
	ErrDeviceNotFound       = errors.New("device not found")
	// ErrConditionFailed запись изменилась между чтением и условным обновлением.
	ErrConditionFailed = errors.New("conditional update failed")
	// ErrNoChange возвращается функцией-мутатором UpdateAccount, когда запись
	// менять не нужно; хранилище откатывает транзакцию и возвращает текущую запись без ошибки.
	ErrNoChange = errors.New("no change")
)

// Match условие compare-and-swap для записи подписки: обновление применяется,
// только если статус, статус оплаты и версия совпадают с прочитанными.
type Match struct {
	ID            string
	Status        models.SubscriptionStatus
	PaymentStatus models.PaymentStatus
	Version       int64
}

// MatchOf строит условие по прочитанной записи.
func MatchOf(s *models.Subscription) Match {
	return Match{
		ID:            s.ID,
		Status:        s.Status,
		PaymentStatus: s.PaymentStatus,
		Version:       s.Version,
	}
}

// Matches сообщает, удовлетворяет ли запись условию.
func (m Match) Matches(s *models.Subscription) bool {
	return s.ID == m.ID && s.Status == m.Status && s.PaymentStatus == m.PaymentStatus && s.Version == m.Version
}
