// Package devices ограничивает число клиентских устройств, одновременно
// привязанных к учётной записи.
//
// Допуск устройства меняет список привязок, поэтому всегда выполняется внутри
// атомарного UpdateAccount хранилища: два параллельных входа не могут оба
// увидеть свободное место под лимитом.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/storage"
)

// Причины решения о допуске.
const (
	ReasonKnownDevice         = "known_device"
	ReasonWebExempt           = "web_exempt"
	ReasonAdmitted            = "admitted"
	ReasonDeviceLimitExceeded = "device_limit_exceeded"
)

// webPrefix префикс идентификаторов, которые выдаёт браузерный клиент.
const webPrefix = "web-"

// Result решение о допуске устройства.
type Result struct {
	Admitted       bool   `json:"admitted"`
	Reason         string `json:"reason"`
	CurrentDevices int    `json:"currentDevices"`
	MaxDevices     int    `json:"maxDevices"`
}

// InferType определяет тип устройства: явное значение клиента важнее,
// иначе идентификатор с префиксом web- означает браузер.
func InferType(deviceID, explicit string) models.DeviceType {
	switch models.DeviceType(strings.ToLower(strings.TrimSpace(explicit))) {
	case models.DeviceWeb:
		return models.DeviceWeb
	case models.DeviceMobile:
		return models.DeviceMobile
	}
	if strings.HasPrefix(deviceID, webPrefix) {
		return models.DeviceWeb
	}
	return models.DeviceMobile
}

// Admit применяет правила допуска к a и при допуске изменяет список устройств.
//
// Известное устройство допускается всегда, обновляется только lastLoginAt.
// При webExempt браузеры не учитываются в лимите и добавляются без проверки;
// иначе лимит считается по всем устройствам.
func Admit(a *models.Account, deviceID string, deviceType models.DeviceType, info string, now time.Time, webExempt bool) Result {
	limit := a.DeviceLimit()

	if i := a.DeviceIndex(deviceID); i >= 0 {
		a.Devices[i].LastLoginAt = now
		if info != "" {
			a.Devices[i].DeviceInfo = info
		}
		return Result{Admitted: true, Reason: ReasonKnownDevice, CurrentDevices: countCapped(a, webExempt), MaxDevices: limit}
	}

	dev := models.Device{DeviceID: deviceID, DeviceType: deviceType, DeviceInfo: info, LastLoginAt: now}
	if deviceType == models.DeviceWeb && webExempt {
		a.Devices = append(a.Devices, dev)
		return Result{Admitted: true, Reason: ReasonWebExempt, CurrentDevices: countCapped(a, webExempt), MaxDevices: limit}
	}

	current := countCapped(a, webExempt)
	if current >= limit {
		return Result{Admitted: false, Reason: ReasonDeviceLimitExceeded, CurrentDevices: current, MaxDevices: limit}
	}
	a.Devices = append(a.Devices, dev)
	return Result{Admitted: true, Reason: ReasonAdmitted, CurrentDevices: current + 1, MaxDevices: limit}
}

func countCapped(a *models.Account, webExempt bool) int {
	if !webExempt {
		return len(a.Devices)
	}
	n := 0
	for _, d := range a.Devices {
		if d.DeviceType != models.DeviceWeb {
			n++
		}
	}
	return n
}

// LimitError ошибка отказа в допуске с данными для клиента.
func LimitError(r Result) error {
	return apperr.Authorization(apperr.TypeDeviceLimitExceeded,
		fmt.Sprintf("device limit reached: %d of %d devices in use", r.CurrentDevices, r.MaxDevices)).
		WithDetails(map[string]any{
			"reason":         r.Reason,
			"currentDevices": r.CurrentDevices,
			"maxDevices":     r.MaxDevices,
		})
}

// AccountStore атомарное чтение-изменение-запись учётной записи.
type AccountStore interface {
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	UpdateAccount(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error)
}

// Recorder учитывает решения о допуске.
type Recorder interface {
	DeviceAdmission(result string)
}

// Guard управляет привязками устройств.
type Guard struct {
	accounts  AccountStore
	webExempt bool
	metrics   Recorder
	log       *slog.Logger
	now       func() time.Time
}

// NewGuard создаёт Guard. metrics может быть nil.
func NewGuard(accounts AccountStore, webExempt bool, metrics Recorder, log *slog.Logger) *Guard {
	return &Guard{
		accounts:  accounts,
		webExempt: webExempt,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// Apply допускает устройство к a. Вызывается из функции-мутатора UpdateAccount,
// чтобы допуск и выпуск токена были одной записью.
func (g *Guard) Apply(a *models.Account, deviceID string, deviceType models.DeviceType, info string) (Result, error) {
	r := Admit(a, deviceID, deviceType, info, g.now().UTC(), g.webExempt)
	if g.metrics != nil {
		g.metrics.DeviceAdmission(r.Reason)
	}
	if !r.Admitted {
		return r, LimitError(r)
	}
	return r, nil
}

// Admit допускает устройство отдельной атомарной записью.
func (g *Guard) Admit(ctx context.Context, userID, deviceID string, deviceType models.DeviceType, info string) (Result, error) {
	const op = "devices.Admit"
	var res Result
	_, err := g.accounts.UpdateAccount(ctx, userID, func(a *models.Account) error {
		var err error
		res, err = g.Apply(a, deviceID, deviceType, info)
		return err
	})
	if err != nil {
		return res, translate(op, err)
	}
	return res, nil
}

// List возвращает привязанные устройства и лимит.
func (g *Guard) List(ctx context.Context, userID string) ([]models.Device, int, error) {
	const op = "devices.List"
	a, err := g.accounts.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, 0, translate(op, err)
	}
	list := a.Devices
	if list == nil {
		list = []models.Device{}
	}
	return list, a.DeviceLimit(), nil
}

// Remove отвязывает устройство. Токены, выпущенные под ним, перестают приниматься.
func (g *Guard) Remove(ctx context.Context, userID, deviceID string) (*models.Account, error) {
	const op = "devices.Remove"
	log := g.log.With(slog.String("op", op), slog.String("user_id", userID))

	a, err := g.accounts.UpdateAccount(ctx, userID, func(a *models.Account) error {
		i := a.DeviceIndex(deviceID)
		if i < 0 {
			return storage.ErrDeviceNotFound
		}
		a.Devices = append(a.Devices[:i], a.Devices[i+1:]...)
		return nil
	})
	if err != nil {
		if !errors.Is(err, storage.ErrDeviceNotFound) {
			log.Error("failed to remove device", sl.Err(err))
		}
		return nil, translate(op, err)
	}
	log.Info("device removed", slog.String("device_id", deviceID))
	return a, nil
}

// Reset отвязывает все устройства учётной записи.
func (g *Guard) Reset(ctx context.Context, userID string) (*models.Account, error) {
	const op = "devices.Reset"
	a, err := g.accounts.UpdateAccount(ctx, userID, func(a *models.Account) error {
		if len(a.Devices) == 0 {
			return storage.ErrNoChange
		}
		a.Devices = []models.Device{}
		return nil
	})
	if err != nil {
		return nil, translate(op, err)
	}
	g.log.Info("devices reset", slog.String("op", op), slog.String("user_id", userID))
	return a, nil
}

func translate(op string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrAccountNotFound):
		return apperr.NotFound(apperr.TypeUserNotFound, "user not found")
	case errors.Is(err, storage.ErrDeviceNotFound):
		return apperr.NotFound(apperr.TypeDeviceNotFound, "device not found")
	}
	return apperr.Internal(fmt.Errorf("%s: %w", op, err))
}
