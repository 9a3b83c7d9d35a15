// Package renew реализует POST /subscription/renew: продление по уже подтверждённой оплате.
package renew

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
)

// Request тариф и ключ подтверждённой оплаты.
type Request struct {
	Plan           string `json:"plan" validate:"required"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required"`
}

// Service описывает продление.
type Service interface {
	ConfirmRenewal(ctx context.Context, userID string, plan models.Plan, key string) (*models.Subscription, error)
}

// Handler обрабатывает POST /subscription/renew.
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
// @Summary Продление подписки
// @Description Принимается только для ключа, оплата по которому уже подтверждена.
// @Tags Subscription
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body Request true "Продление"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /subscription/renew [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.renew"
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

	sub, err := h.service.ConfirmRenewal(r.Context(), a.ID, models.Plan(req.Plan), req.IdempotencyKey)
	if err != nil {
		log.Warn("renewal rejected", slog.String("idempotency_key", req.IdempotencyKey), sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	log.Info("subscription renewed", slog.String("user_id", a.ID), slog.Time("end_date", sub.EndDate))
	response.JSON(w, r, http.StatusOK, response.OKWithMessage("subscription renewed", map[string]any{"subscription": sub}))
}
