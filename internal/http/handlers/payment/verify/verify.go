// Package verify реализует POST /verify-subscription: клиент сам запрашивает
// состояние сессии оплаты, не дожидаясь вебхука.
package verify

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/pricegate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/access"
	"github.com/magabrotheeeer/pricegate/internal/services/lifecycle"
)

// Request сессия оплаты.
type Request struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// Service описывает проверку оплаты.
type Service interface {
	Verify(ctx context.Context, userID, sessionID string) (*lifecycle.Verification, error)
	Get(ctx context.Context, userID string) (*models.Subscription, access.Status, error)
}

// Handler обрабатывает POST /verify-subscription.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New()}
}

// ServeHTTP godoc
// @Summary Проверка оплаты
// @Tags Payment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body Request true "Сессия оплаты"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /verify-subscription [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.verify"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	a, ok := middlewarectx.MustAccount(w, r)
	if !ok {
		return
	}
	var req Request
	if err := response.Decode(r, h.validate, &req); err != nil {
		response.Fail(w, r, err)
		return
	}

	v, err := h.service.Verify(r.Context(), a.ID, req.SessionID)
	if err != nil {
		log.Error("verification failed", slog.String("session_id", req.SessionID), sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	// доступ пересчитывается по свежей записи, а не по учётной записи из токена
	_, st, err := h.service.Get(r.Context(), a.ID)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, response.OK(map[string]any{
		"status":       v.Status,
		"outcome":      v.Outcome,
		"pending":      v.Pending,
		"subscription": v.Subscription,
		"access":       st,
	}))
}
