// Package health проверка готовности сервиса.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
)

const pingTimeout = 2 * time.Second

// Pinger зависимость, доступность которой проверяется.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler обрабатывает GET /health.
type Handler struct {
	log   *slog.Logger
	store Pinger
	cache Pinger
}

// New создаёт Handler. cache может быть nil.
func New(log *slog.Logger, store, cache Pinger) *Handler {
	return &Handler{log: log, store: store, cache: cache}
}

// ServeHTTP godoc
// @Summary Проверка готовности
// @Tags Health
// @Produce json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.ErrorResponse
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Error("store is unavailable", slog.String("op", "handlers.health"), sl.Err(err))
		response.JSON(w, r, http.StatusServiceUnavailable, response.Error("store is unavailable", apperr.TypeInternal))
		return
	}
	cacheState := "disabled"
	if h.cache != nil {
		cacheState = "ok"
		// без redis сервис работает, поэтому его недоступность не роняет проверку
		if err := h.cache.Ping(ctx); err != nil {
			h.log.Warn("cache is unavailable", slog.String("op", "handlers.health"), sl.Err(err))
			cacheState = "unavailable"
		}
	}
	response.JSON(w, r, http.StatusOK, response.OK(map[string]any{
		"status": "ok",
		"store":  "ok",
		"cache":  cacheState,
	}))
}
