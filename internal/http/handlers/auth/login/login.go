// Package login реализует HTTP-обработчик входа по email и паролю.
//
// Вход привязывает устройство клиента с учётом лимита устройств. Пользователь
// с истёкшим доступом тоже получает токен: ответ несёт состояние доступа,
// по которому клиент показывает экран оплаты.
package login

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/services/auth"
)

// Request учётные данные и устройство клиента.
type Request struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	DeviceID   string `json:"deviceId" validate:"required,max=200"`
	DeviceType string `json:"deviceType,omitempty" validate:"omitempty,oneof=web mobile"`
	DeviceInfo string `json:"deviceInfo,omitempty" validate:"max=500"`
}

// Service описывает вход.
type Service interface {
	Login(ctx context.Context, in auth.LoginInput) (*auth.Session, error)
}

// Handler обрабатывает POST /login.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Вход пользователя
// @Description Проверяет пароль, привязывает устройство и возвращает токен и состояние доступа.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body Request true "Учётные данные"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse "Неверные учётные данные"
// @Failure 403 {object} response.ErrorResponse "Превышен лимит устройств"
// @Router /login [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.login"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := response.Decode(r, h.validate, &req); err != nil {
		log.Info("invalid request", sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	sess, err := h.service.Login(r.Context(), auth.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		DeviceID:   req.DeviceID,
		DeviceType: req.DeviceType,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		log.Info("login failed", sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, response.OKWithMessage("login successful", map[string]any{
		"token":       sess.Token,
		"user":        sess.Account,
		"access":      sess.Access,
		"device":      sess.Device,
		"deviceCount": sess.Device.CurrentDevices,
	}))
}
