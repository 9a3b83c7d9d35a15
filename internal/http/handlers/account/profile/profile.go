// Package profile реализует чтение профиля текущего пользователя.
package profile

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/pricegate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/access"
)

// Service описывает чтение профиля.
type Service interface {
	Profile(ctx context.Context, userID string) (*models.Account, access.Status, error)
}

// Handler обрабатывает GET /me и GET /protected/profile.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Профиль пользователя
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /me [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.profile"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	a, ok := middlewarectx.MustAccount(w, r)
	if !ok {
		return
	}
	account, st, err := h.service.Profile(r.Context(), a.ID)
	if err != nil {
		log.Error("failed to load profile", sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, response.OK(map[string]any{
		"user":   account,
		"access": st,
	}))
}
