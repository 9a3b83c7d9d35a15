// Package middlewarectx содержит HTTP middleware сессий и доступа.
//
// Auth проверяет токен из заголовка Authorization и кладёт в контекст учётную
// запись и устройство сессии. RequireAccess и AdminOnly ставятся после Auth.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/lib/jwt"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// AccountKey ключ учётной записи сессии.
	AccountKey Key = "account"
	// DeviceKey ключ идентификатора устройства сессии.
	DeviceKey Key = "device_id"
)

// Authenticator проверяет сессионный токен.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Account, *jwt.CustomClaims, error)
}

// Auth возвращает middleware, который пропускает только запросы с действующей сессией.
func Auth(auth Authenticator, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.Auth"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			account, claims, err := auth.Authenticate(r.Context(), bearerToken(r))
			if err != nil {
				if apperr.KindOf(err) == apperr.KindServer {
					log.Error("failed to authenticate", sl.Err(err))
				} else {
					log.Debug("unauthenticated request", sl.Err(err))
				}
				response.Fail(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), AccountKey, account)
			ctx = context.WithValue(ctx, DeviceKey, claims.DeviceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// AccountFrom возвращает учётную запись сессии.
func AccountFrom(ctx context.Context) (*models.Account, bool) {
	a, ok := ctx.Value(AccountKey).(*models.Account)
	return a, ok && a != nil
}

// DeviceFrom возвращает устройство сессии.
func DeviceFrom(ctx context.Context) string {
	d, _ := ctx.Value(DeviceKey).(string)
	return d
}

// WithAccount кладёт учётную запись в контекст. Используется в тестах обработчиков.
func WithAccount(ctx context.Context, a *models.Account, deviceID string) context.Context {
	ctx = context.WithValue(ctx, AccountKey, a)
	return context.WithValue(ctx, DeviceKey, deviceID)
}

// MustAccount возвращает учётную запись сессии или пишет 401 и возвращает false.
func MustAccount(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	a, ok := AccountFrom(r.Context())
	if !ok {
		response.Fail(w, r, apperr.Authentication(apperr.TypeNoToken, "authorization token is required"))
		return nil, false
	}
	return a, true
}
