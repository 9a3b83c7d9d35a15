// Package logout реализует выход: устройство сессии отвязывается,
// и токен, выпущенный под ним, больше не принимается.
package logout

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/pricegate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
)

// Service описывает выход.
type Service interface {
	Logout(ctx context.Context, userID, deviceID string) error
}

// Handler обрабатывает POST /logout.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Выход
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse
// @Router /logout [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.logout"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	a, ok := middlewarectx.MustAccount(w, r)
	if !ok {
		return
	}
	deviceID := middlewarectx.DeviceFrom(r.Context())
	if err := h.service.Logout(r.Context(), a.ID, deviceID); err != nil {
		log.Error("logout failed", sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	log.Info("user logged out", slog.String("user_id", a.ID), slog.String("device_id", deviceID))
	response.JSON(w, r, http.StatusOK, response.OKWithMessage("logged out", nil))
}
