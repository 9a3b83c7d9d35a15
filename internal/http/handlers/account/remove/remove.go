// Package remove реализует DELETE /me: удаление учётной записи вместе с подпиской.
package remove

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/pricegate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
)

// Service описывает удаление учётной записи.
type Service interface {
	DeleteAccount(ctx context.Context, userID string) error
}

// Handler обрабатывает DELETE /me.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Удаление учётной записи
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Router /me [delete]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.remove"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	a, ok := middlewarectx.MustAccount(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteAccount(r.Context(), a.ID); err != nil {
		log.Error("failed to delete account", sl.Err(err))
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, response.OKWithMessage("account deleted", nil))
}
