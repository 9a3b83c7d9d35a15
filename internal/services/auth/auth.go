// Package auth отвечает за регистрацию, вход по паролю с привязкой устройства
// и разбор сессионных токенов.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/lib/jwt"
	"github.com/magabrotheeeer/pricegate/internal/lib/password"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/access"
	"github.com/magabrotheeeer/pricegate/internal/services/devices"
	"github.com/magabrotheeeer/pricegate/internal/storage"
)

// AccountStore описывает контракт для работы с учётными записями.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdateAccount(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

// DeviceGuard допуск и отвязка устройств.
type DeviceGuard interface {
	Apply(a *models.Account, deviceID string, deviceType models.DeviceType, info string) (devices.Result, error)
	Remove(ctx context.Context, userID, deviceID string) (*models.Account, error)
}

// Publisher отправляет доменные события.
type Publisher interface {
	Publish(ctx context.Context, ev models.DomainEvent) error
}

// Config параметры регистрации.
type Config struct {
	AdminEmail    string
	AdminPassword string
	TrialDuration time.Duration
	MaxDevices    int
}

// Service регистрация, вход и проверка сессий.
type Service struct {
	accounts  AccountStore
	guard     DeviceGuard
	tokens    jwt.Maker
	publisher Publisher
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

// New создаёт Service. publisher может быть nil.
func New(accounts AccountStore, guard DeviceGuard, tokens jwt.Maker, publisher Publisher, cfg Config, log *slog.Logger) *Service {
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = models.DefaultMaxDevices
	}
	return &Service{
		accounts:  accounts,
		guard:     guard,
		tokens:    tokens,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// RegisterInput данные регистрации.
type RegisterInput struct {
	Name       string
	Email      string
	Password   string
	Phone      string
	DeviceID   string
	DeviceType string
	DeviceInfo string
}

// LoginInput данные входа.
type LoginInput struct {
	Email      string
	Password   string
	DeviceID   string
	DeviceType string
	DeviceInfo string
}

// Session результат регистрации или входа.
type Session struct {
	Token   string
	Account *models.Account
	Access  access.Status
	Device  devices.Result
}

// Register создаёт учётную запись с пробным периодом, привязывает устройство и выпускает токен.
// Без deviceId сессия регистрируется как веб-клиент.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	const op = "auth.Register"
	log := s.log.With(slog.String("op", op))

	email := models.NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Validation(apperr.TypeValidation, "valid email is required")
	}
	if len(in.Password) < password.MinLength {
		return nil, apperr.Validation(apperr.TypeValidation,
			fmt.Sprintf("password must be at least %d characters", password.MinLength))
	}
	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		deviceID = "web-" + uuid.NewString()
	}

	hash, err := password.GetHash(in.Password)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
	}

	now := s.now().UTC()
	a := &models.Account{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: hash,
		Role:         s.roleFor(email, in.Password),
		IsTrial:      true,
		MaxDevices:   s.cfg.MaxDevices,
		Devices:      []models.Device{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.cfg.TrialDuration > 0 {
		trialEnd := now.Add(s.cfg.TrialDuration)
		a.TrialEndsAt = &trialEnd
	}

	res, err := s.guard.Apply(a, deviceID, devices.InferType(deviceID, in.DeviceType), in.DeviceInfo)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			return nil, apperr.Conflict(apperr.TypeEmailTaken, "user with this email already exists")
		}
		log.Error("failed to create account", sl.Err(err))
		return nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
	}

	token, err := s.tokens.GenerateToken(a.ID, string(a.Role), deviceID)
	if err != nil {
		log.Error("failed to issue token", sl.Err(err))
		return nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
	}

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, models.DomainEvent{
			Name:       models.EventAccountRegistered,
			UserID:     a.ID,
			Email:      a.Email,
			OccurredAt: now,
			Data:       map[string]any{"name": a.Name, "trialEndsAt": a.TrialEndsAt},
		})
		if err != nil {
			log.Warn("failed to publish registration", sl.Err(err))
		}
	}

	log.Info("account registered", slog.String("user_id", a.ID), slog.String("role", string(a.Role)))
	return &Session{Token: token, Account: a, Access: access.StatusOf(a, now), Device: res}, nil
}

func (s *Service) roleFor(email, rawPassword string) models.Role {
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		return models.RoleUser
	}
	if email == models.NormalizeEmail(s.cfg.AdminEmail) && rawPassword == s.cfg.AdminPassword {
		return models.RoleAdmin
	}
	return models.RoleUser
}

// Login проверяет пароль, допускает устройство и выпускает токен одной записью учётной записи:
// если токен выпустить не удалось, устройство не привязывается.
// Вход разрешён и с истёкшим доступом, ограничение действует на закрытых маршрутах.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	const op = "auth.Login"
	log := s.log.With(slog.String("op", op))

	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return nil, apperr.Validation(apperr.TypeValidation, "deviceId is required")
	}

	a, err := s.accounts.GetAccountByEmail(ctx, models.NormalizeEmail(in.Email))
	if errors.Is(err, storage.ErrAccountNotFound) {
		return nil, apperr.Authentication(apperr.TypeInvalidCredentials, "invalid email or password")
	}
	if err != nil {
		log.Error("failed to load account", sl.Err(err))
		return nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
	}
	if err := password.CompareHash(a.PasswordHash, in.Password); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return nil, apperr.Authentication(apperr.TypeInvalidCredentials, "invalid email or password")
		}
		return nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
	}

	var (
		res   devices.Result
		token string
	)
	deviceType := devices.InferType(deviceID, in.DeviceType)
	updated, err := s.accounts.UpdateAccount(ctx, a.ID, func(acc *models.Account) error {
		var err error
		if res, err = s.guard.Apply(acc, deviceID, deviceType, in.DeviceInfo); err != nil {
			return err
		}
		token, err = s.tokens.GenerateToken(acc.ID, string(acc.Role), deviceID)
		return err
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			log.Info("login rejected", slog.String("user_id", a.ID), sl.Err(err))
			return nil, err
		}
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, apperr.Authentication(apperr.TypeInvalidCredentials, "invalid email or password")
		}
		log.Error("failed to bind device", sl.Err(err))
		return nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
	}

	log.Info("user logged in",
		slog.String("user_id", updated.ID),
		slog.String("device_id", deviceID),
		slog.String("device_result", res.Reason),
	)
	return &Session{Token: token, Account: updated, Access: access.StatusOf(updated, s.now().UTC()), Device: res}, nil
}

// Logout отвязывает устройство сессии. Повторный выход не считается ошибкой.
func (s *Service) Logout(ctx context.Context, userID, deviceID string) error {
	if deviceID == "" {
		return nil
	}
	_, err := s.guard.Remove(ctx, userID, deviceID)
	if apperr.Is(err, apperr.TypeDeviceNotFound) {
		return nil
	}
	return err
}

// Authenticate разбирает токен и загружает учётную запись.
// Токен отвязанного устройства отклоняется.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Account, *jwt.CustomClaims, error) {
	const op = "auth.Authenticate"
	if token == "" {
		return nil, nil, apperr.Authentication(apperr.TypeNoToken, "authorization token is required")
	}
	claims, err := s.tokens.ParseToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, nil, apperr.Authentication(apperr.TypeTokenExpired, "token expired, please log in again")
		}
		return nil, nil, apperr.Authentication(apperr.TypeInvalidToken, "invalid token")
	}

	a, err := s.accounts.GetAccountByID(ctx, claims.UserID)
	if errors.Is(err, storage.ErrAccountNotFound) {
		return nil, nil, apperr.Authentication(apperr.TypeUserNotFound, "user no longer exists")
	}
	if err != nil {
		return nil, nil, apperr.Internal(fmt.Errorf("%s: %w", op, err))
	}
	if claims.DeviceID != "" && !a.HasDevice(claims.DeviceID) {
		return nil, nil, apperr.Authentication(apperr.TypeDeviceRevoked, "device was removed, please log in again")
	}
	return a, claims, nil
}

// Profile возвращает учётную запись и состояние доступа.
func (s *Service) Profile(ctx context.Context, userID string) (*models.Account, access.Status, error) {
	const op = "auth.Profile"
	a, err := s.accounts.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, access.Status{}, accountError(op, err)
	}
	return a, access.StatusOf(a, s.now().UTC()), nil
}

// ProfileUpdate изменяемые поля профиля; nil означает "не менять".
type ProfileUpdate struct {
	Name  *string
	Phone *string
}

// UpdateProfile меняет имя и телефон.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*models.Account, error) {
	const op = "auth.UpdateProfile"
	a, err := s.accounts.UpdateAccount(ctx, userID, func(a *models.Account) error {
		if upd.Name == nil && upd.Phone == nil {
			return storage.ErrNoChange
		}
		if upd.Name != nil {
			a.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Phone != nil {
			a.Phone = strings.TrimSpace(*upd.Phone)
		}
		return nil
	})
	if err != nil {
		return nil, accountError(op, err)
	}
	return a, nil
}

// DeleteAccount удаляет учётную запись и её подписку.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	const op = "auth.DeleteAccount"
	if err := s.accounts.DeleteAccount(ctx, userID); err != nil {
		return accountError(op, err)
	}
	s.log.Info("account deleted", slog.String("op", op), slog.String("user_id", userID))
	return nil
}

func accountError(op string, err error) error {
	if errors.Is(err, storage.ErrAccountNotFound) {
		return apperr.NotFound(apperr.TypeUserNotFound, "user not found")
	}
	return apperr.Internal(fmt.Errorf("%s: %w", op, err))
}
