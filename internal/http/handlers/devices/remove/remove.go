// Package remove реализует отвязку устройства пользователем.
package remove

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

// Request тело запроса на отвязку.
type Request struct {
	DeviceID string `json:"deviceId" validate:"required"`
}

// Service описывает отвязку устройства.
type Service interface {
	Remove(ctx context.Context, userID, deviceID string) (*models.Account, error)
}

// Handler обрабатывает POST /devices/remove.
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
// @Summary Отвязать устройство
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body Request true "Устройство"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Router /devices/remove [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.devices.remove"
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

	updated, err := h.service.Remove(r.Context(), a.ID, req.DeviceID)
	if err != nil {
		log.Warn("failed to remove device", slog.String("device_id", req.DeviceID), sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, response.OKWithMessage("device removed", map[string]any{
		"devices":        updated.Devices,
		"currentDevices": len(updated.Devices),
		"maxDevices":     updated.DeviceLimit(),
	}))
}
