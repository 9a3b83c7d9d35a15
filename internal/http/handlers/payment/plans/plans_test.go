package plans

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/pricegate/internal/http/handlers/handlertest"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/lifecycle"
)

type staticCatalogue []lifecycle.PlanQuote

func (c staticCatalogue) Plans() []lifecycle.PlanQuote { return c }

func TestPlansHandler(t *testing.T) {
	cat := staticCatalogue{
		{Plan: models.PlanMonthly, Amount: 20000, Currency: "eur", Months: 1},
		{Plan: models.PlanAnnual, Amount: 120000, Currency: "eur", Months: 12},
	}
	rec, body := handlertest.Serve(t, New(handlertest.NoopLogger(), cat), handlertest.Request(t, http.MethodGet, "/plans", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	list, ok := handlertest.Data(t, body)["plans"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, "monthly", first["plan"])
	assert.EqualValues(t, 20000, first["amount"])
	assert.Equal(t, "eur", first["currency"])
}
