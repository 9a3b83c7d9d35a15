// Package register реализует HTTP-обработчик регистрации пользователя.
//
// Новая учётная запись получает пробный период, устройство регистрации
// привязывается к ней, а в ответе возвращается сессионный токен.
package register

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

// Request входные данные регистрации.
type Request struct {
	Name       string `json:"name" validate:"max=100"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=6"`
	Phone      string `json:"phone,omitempty" validate:"max=32"`
	DeviceID   string `json:"deviceId,omitempty" validate:"max=200"`
	DeviceType string `json:"deviceType,omitempty" validate:"omitempty,oneof=web mobile"`
	DeviceInfo string `json:"deviceInfo,omitempty" validate:"max=500"`
}

// Service описывает регистрацию.
type Service interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Session, error)
}

// Handler обрабатывает POST /register.
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
// @Summary Регистрация пользователя
// @Description Создаёт учётную запись с пробным периодом и возвращает сессионный токен.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body Request true "Данные регистрации"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse "Email уже занят"
// @Router /register [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.register"
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

	sess, err := h.service.Register(r.Context(), auth.RegisterInput{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		Phone:      req.Phone,
		DeviceID:   req.DeviceID,
		DeviceType: req.DeviceType,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		log.Info("registration failed", sl.Err(err))
		response.Fail(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusCreated, response.OKWithMessage("registration successful", map[string]any{
		"token":  sess.Token,
		"user":   sess.Account,
		"access": sess.Access,
		"device": sess.Device,
	}))
}
