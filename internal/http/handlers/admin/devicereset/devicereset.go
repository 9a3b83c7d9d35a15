// Package devicereset отвязывает все устройства пользователя по запросу администратора.
package devicereset

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/pricegate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
)

// Service описывает сброс устройств.
type Service interface {
	Reset(ctx context.Context, userID string) (*models.Account, error)
}

// Handler обрабатывает POST /admin/accounts/{id}/devices/reset.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Сброс устройств пользователя
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Идентификатор пользователя"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /admin/accounts/{id}/devices/reset [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.devicereset"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	id := chi.URLParam(r, "id")
	a, err := h.service.Reset(r.Context(), id)
	if err != nil {
		log.Warn("failed to reset devices", slog.String("user_id", id), sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	admin := "unknown"
	if who, ok := middlewarectx.AccountFrom(r.Context()); ok {
		admin = who.ID
	}
	log.Info("devices reset by admin", slog.String("user_id", id), slog.String("admin_id", admin))
	response.JSON(w, r, http.StatusOK, response.OKWithMessage("devices reset", map[string]any{
		"userId":         a.ID,
		"currentDevices": len(a.Devices),
		"maxDevices":     a.DeviceLimit(),
	}))
}
