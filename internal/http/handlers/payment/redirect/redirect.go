// Package redirect обрабатывает возврат браузера со страницы оплаты.
// Сессия применяется через реконсилятор, после чего пользователь
// перенаправляется на фронтенд с параметром status.
package redirect

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/lifecycle"
)

// Service описывает применение сессии оплаты по редиректу.
type Service interface {
	ConfirmRedirect(ctx context.Context, sessionID string) (*lifecycle.Verification, error)
	CancelCheckout(ctx context.Context, sessionID string) (*lifecycle.Verification, error)
}

// Handler обрабатывает GET /checkout/success и GET /checkout/cancel.
type Handler struct {
	log         *slog.Logger
	frontendURL string
	op          string
	apply       func(ctx context.Context, sessionID string) (*lifecycle.Verification, error)
}

// NewSuccess создаёт обработчик успешного возврата.
func NewSuccess(log *slog.Logger, service Service, frontendURL string) *Handler {
	return &Handler{log: log, frontendURL: frontendURL, op: "handlers.payment.redirect.success", apply: service.ConfirmRedirect}
}

// NewCancel создаёт обработчик отказа от оплаты.
func NewCancel(log *slog.Logger, service Service, frontendURL string) *Handler {
	return &Handler{log: log, frontendURL: frontendURL, op: "handlers.payment.redirect.cancel", apply: service.CancelCheckout}
}

// ServeHTTP godoc
// @Summary Возврат со страницы оплаты
// @Tags Payment
// @Param session_id query string true "Идентификатор сессии оплаты"
// @Success 303
// @Router /checkout/success [get]
// @Router /checkout/cancel [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(
		slog.String("op", h.op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	sessionID := r.URL.Query().Get("session_id")
	v, err := h.apply(r.Context(), sessionID)
	if err != nil {
		log.Error("failed to apply checkout session", slog.String("session_id", sessionID), sl.Err(err))
		http.Redirect(w, r, h.target("error", sessionID), http.StatusSeeOther)
		return
	}
	log.Info("checkout session applied",
		slog.String("session_id", sessionID),
		slog.String("status", string(v.Status)),
		slog.String("outcome", string(v.Outcome)),
	)
	http.Redirect(w, r, h.target(statusOf(v), sessionID), http.StatusSeeOther)
}

func statusOf(v *lifecycle.Verification) string {
	if v.Pending {
		return "pending"
	}
	switch v.Status {
	case models.StatusActive:
		return "success"
	case models.StatusPending:
		return "pending"
	case models.StatusPaymentFailed:
		return "failed"
	default:
		return "cancelled"
	}
}

func (h *Handler) target(status, sessionID string) string {
	u, err := url.Parse(h.frontendURL)
	if err != nil || h.frontendURL == "" {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set("status", status)
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
