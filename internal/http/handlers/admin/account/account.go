// Package account отдаёт администратору учётную запись пользователя вместе с решением о доступе.
package account

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/access"
)

// Service описывает чтение учётной записи.
type Service interface {
	Profile(ctx context.Context, userID string) (*models.Account, access.Status, error)
}

// Handler обрабатывает GET /admin/accounts/{id}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Учётная запись пользователя
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Идентификатор пользователя"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /admin/accounts/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.account"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id := chi.URLParam(r, "id")
	a, st, err := h.service.Profile(r.Context(), id)
	if err != nil {
		log.Warn("failed to load account", slog.String("user_id", id), sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, response.OK(map[string]any{
		"user":   a,
		"access": st,
	}))
}
