package middlewarectx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/access"
)

// AccessChecker проверяет право доступа к закрытым данным.
type AccessChecker interface {
	Check(a *models.Account) (access.Status, error)
}

// RequireAccess пропускает запрос, только если у пользователя действует подписка
// или пробный период. Решение принимается заново на каждом запросе.
func RequireAccess(checker AccessChecker, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := MustAccount(w, r)
			if !ok {
				return
			}
			if _, err := checker.Check(a); err != nil {
				log.Info("access denied",
					slog.String("op", "middlewarectx.RequireAccess"),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("user_id", a.ID),
					slog.String("error_type", errorType(err)),
				)
				response.Fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminOnly пропускает только администраторов.
func AdminOnly(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := MustAccount(w, r)
			if !ok {
				return
			}
			if !a.IsAdmin() {
				log.Warn("admin route denied", slog.String("user_id", a.ID), slog.String("path", r.URL.Path))
				response.Fail(w, r, apperr.Authorization(apperr.TypeAdminOnly, "admin access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func errorType(err error) string {
	if e, ok := apperr.As(err); ok {
		return e.Type
	}
	return ""
}
