// Package models содержит доменные структуры сервиса: учётную запись с
// привязанными устройствами, каноническую запись подписки с историей платежей
// и события платёжного провайдера, которые применяет реконсилятор.
package models

import (
	"strings"
	"time"
)

// Role роль пользователя.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// DeviceType тип клиентского устройства.
type DeviceType string

const (
	DeviceMobile DeviceType = "mobile"
	DeviceWeb    DeviceType = "web"
)

// DefaultMaxDevices лимит мобильных устройств, если у учётной записи он не задан.
const DefaultMaxDevices = 2

// Device привязка сессии к клиентскому устройству.
type Device struct {
	DeviceID    string     `json:"deviceId" bson:"deviceId"`
	DeviceType  DeviceType `json:"deviceType" bson:"deviceType"`
	DeviceInfo  string     `json:"deviceInfo,omitempty" bson:"deviceInfo,omitempty"`
	LastLoginAt time.Time  `json:"lastLoginAt" bson:"lastLoginAt"`
}

// Account учётная запись пользователя.
//
// Поля IsSubscribed, SubscriptionPlan и даты подписки являются зеркалом
// канонической записи Subscription и обновляются только реконсилятором
// или менеджером жизненного цикла подписки.
type Account struct {
	ID           string `json:"id" bson:"_id"`
	Name         string `json:"name" bson:"name"`
	Email        string `json:"email" bson:"email"`
	Phone        string `json:"phone,omitempty" bson:"phone,omitempty"`
	PasswordHash string `json:"-" bson:"passwordHash"`
	Role         Role   `json:"role" bson:"role"`

	IsTrial     bool       `json:"isTrial" bson:"isTrial"`
	TrialEndsAt *time.Time `json:"trialEndsAt,omitempty" bson:"trialEndsAt,omitempty"`

	IsSubscribed          bool       `json:"isSubscribed" bson:"isSubscribed"`
	SubscriptionPlan      Plan       `json:"subscriptionPlan,omitempty" bson:"subscriptionPlan,omitempty"`
	SubscriptionStartDate *time.Time `json:"subscriptionStartDate,omitempty" bson:"subscriptionStartDate,omitempty"`
	SubscriptionEndDate   *time.Time `json:"subscriptionEndDate,omitempty" bson:"subscriptionEndDate,omitempty"`

	Devices    []Device `json:"devices" bson:"devices"`
	MaxDevices int      `json:"maxDevices" bson:"maxDevices"`

	Version   int64     `json:"-" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// NormalizeEmail приводит адрес к виду, по которому проверяется уникальность.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DeviceLimit возвращает действующий лимит мобильных устройств.
func (a *Account) DeviceLimit() int {
	if a.MaxDevices <= 0 {
		return DefaultMaxDevices
	}
	return a.MaxDevices
}

// DeviceIndex возвращает позицию устройства в списке или -1.
func (a *Account) DeviceIndex(deviceID string) int {
	for i, d := range a.Devices {
		if d.DeviceID == deviceID {
			return i
		}
	}
	return -1
}

// HasDevice сообщает, привязано ли устройство к учётной записи.
func (a *Account) HasDevice(deviceID string) bool {
	return a.DeviceIndex(deviceID) >= 0
}

// IsAdmin сообщает, является ли пользователь администратором.
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// ApplySubscription переносит план и даты подтверждённой подписки в зеркальные поля.
// После подтверждения оплаты пробный период всегда снимается.
func (a *Account) ApplySubscription(s *Subscription) {
	start, end := s.StartDate, s.EndDate
	a.IsSubscribed = true
	a.SubscriptionPlan = s.Plan
	a.SubscriptionStartDate = &start
	a.SubscriptionEndDate = &end
	a.IsTrial = false
}

// MirrorMatches сообщает, совпадают ли зеркальные поля с подпиской.
func (a *Account) MirrorMatches(s *Subscription) bool {
	if !a.IsSubscribed || a.IsTrial || a.SubscriptionPlan != s.Plan {
		return false
	}
	if a.SubscriptionStartDate == nil || a.SubscriptionEndDate == nil {
		return false
	}
	return a.SubscriptionStartDate.Equal(s.StartDate) && a.SubscriptionEndDate.Equal(s.EndDate)
}

// Clone возвращает глубокую копию учётной записи.
func (a *Account) Clone() *Account {
	c := *a
	c.TrialEndsAt = cloneTime(a.TrialEndsAt)
	c.SubscriptionStartDate = cloneTime(a.SubscriptionStartDate)
	c.SubscriptionEndDate = cloneTime(a.SubscriptionEndDate)
	if a.Devices != nil {
		c.Devices = make([]Device, len(a.Devices))
		copy(c.Devices, a.Devices)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
