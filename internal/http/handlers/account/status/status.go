// Package status реализует GET /access-status: решение о доступе для текущей сессии.
package status

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/pricegate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/access"
)

// Evaluator вычисляет состояние доступа.
type Evaluator interface {
	Status(a *models.Account) access.Status
}

// Handler обрабатывает GET /access-status.
type Handler struct {
	log       *slog.Logger
	evaluator Evaluator
}

// New создаёт Handler.
func New(log *slog.Logger, evaluator Evaluator) *Handler {
	return &Handler{log: log, evaluator: evaluator}
}

// ServeHTTP godoc
// @Summary Состояние доступа
// @Description Пробный период, подписка и оставшиеся дни.
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse
// @Router /access-status [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a, ok := middlewarectx.MustAccount(w, r)
	if !ok {
		return
	}
	st := h.evaluator.Status(a)
	h.log.Debug("access evaluated",
		slog.String("op", "handlers.account.status"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user_id", a.ID),
		slog.String("reason", string(st.Reason)),
	)
	response.JSON(w, r, http.StatusOK, response.OK(st))
}
