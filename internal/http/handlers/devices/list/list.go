// Package list реализует GET /devices.
package list

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/pricegate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
)

// Service описывает чтение привязанных устройств.
type Service interface {
	List(ctx context.Context, userID string) ([]models.Device, int, error)
}

// Handler обрабатывает GET /devices.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Привязанные устройства
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse
// @Router /devices [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.devices.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	a, ok := middlewarectx.MustAccount(w, r)
	if !ok {
		return
	}
	devices, limit, err := h.service.List(r.Context(), a.ID)
	if err != nil {
		log.Error("failed to list devices", sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, response.OK(map[string]any{
		"devices":        devices,
		"currentDevices": len(devices),
		"maxDevices":     limit,
		"currentDevice":  middlewarectx.DeviceFrom(r.Context()),
	}))
}
