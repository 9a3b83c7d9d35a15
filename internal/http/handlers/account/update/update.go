// Package update реализует PATCH /me: изменение имени и телефона.
package update

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
	"github.com/magabrotheeeer/pricegate/internal/services/auth"
)

// Request изменяемые поля; отсутствующее поле не меняется.
type Request struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,max=100"`
	Phone *string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// Service описывает обновление профиля.
type Service interface {
	UpdateProfile(ctx context.Context, userID string, upd auth.ProfileUpdate) (*models.Account, error)
}

// Handler обрабатывает PATCH /me.
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
// @Summary Изменение профиля
// @Tags Account
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body Request true "Поля профиля"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Router /me [patch]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.update"
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

	updated, err := h.service.UpdateProfile(r.Context(), a.ID, auth.ProfileUpdate{Name: req.Name, Phone: req.Phone})
	if err != nil {
		log.Error("failed to update profile", sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	log.Info("profile updated", slog.String("user_id", a.ID))
	response.JSON(w, r, http.StatusOK, response.OKWithMessage("profile updated", map[string]any{"user": updated}))
}
