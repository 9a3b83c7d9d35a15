// Package checkout реализует POST /checkout: создание сессии оплаты.
package checkout

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
	"github.com/magabrotheeeer/pricegate/internal/services/lifecycle"
)

// Request выбранный тариф.
type Request struct {
	Plan string `json:"plan" validate:"required"`
}

// Service описывает создание оплаты.
type Service interface {
	InitiateCheckout(ctx context.Context, userID string, plan models.Plan) (*lifecycle.Checkout, error)
}

// Handler обрабатывает POST /checkout.
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
// @Summary Оформление оплаты
// @Description Создаёт сессию оплаты и переводит подписку в ожидание оплаты.
// @Tags Payment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body Request true "Тариф"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /checkout [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.checkout"
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

	co, err := h.service.InitiateCheckout(r.Context(), a.ID, models.Plan(req.Plan))
	if err != nil {
		log.Warn("checkout rejected", slog.String("plan", req.Plan), sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, response.OK(co))
}
