// Package plans отдаёт каталог тарифов.
package plans

import (
	"log/slog"
	"net/http"

	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/services/lifecycle"
)

// Catalogue источник тарифов.
type Catalogue interface {
	Plans() []lifecycle.PlanQuote
}

type Handler struct {
	log       *slog.Logger
	catalogue Catalogue
}

func New(log *slog.Logger, catalogue Catalogue) *Handler {
	return &Handler{log: log, catalogue: catalogue}
}

// ServeHTTP godoc
// @Summary Тарифы
// @Tags Payment
// @Produce json
// @Success 200 {object} response.Response
// @Router /plans [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, response.OK(map[string]any{"plans": h.catalogue.Plans()}))
}
