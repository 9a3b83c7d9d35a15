package update

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/pricegate/internal/http/handlers/handlertest"
	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/auth"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) UpdateProfile(ctx context.Context, userID string, upd auth.ProfileUpdate) (*models.Account, error) {
	args := m.Called(ctx, userID, upd)
	a, _ := args.Get(0).(*models.Account)
	return a, args.Error(1)
}

func TestUpdateHandler(t *testing.T) {
	session := &models.Account{ID: "u1"}

	t.Run("only name given", func(t *testing.T) {
		svc := &ServiceMock{}
		svc.On("UpdateProfile", mock.Anything, "u1", mock.MatchedBy(func(u auth.ProfileUpdate) bool {
			return u.Name != nil && *u.Name == "Anna" && u.Phone == nil
		})).Return(&models.Account{ID: "u1", Name: "Anna"}, nil).Once()

		req := handlertest.Authed(handlertest.Request(t, http.MethodPatch, "/me", `{"name":"Anna"}`), session, "d")
		rec, body := handlertest.Serve(t, New(handlertest.NoopLogger(), svc), req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Anna", handlertest.Data(t, body)["user"].(map[string]any)["name"])
		svc.AssertExpectations(t)
	})

	t.Run("name too long", func(t *testing.T) {
		body := `{"name":"` + strings.Repeat("a", 101) + `"}`
		req := handlertest.Authed(handlertest.Request(t, http.MethodPatch, "/me", body), session, "d")
		rec, resp := handlertest.Serve(t, New(handlertest.NoopLogger(), &ServiceMock{}), req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperr.TypeValidation, resp["errorType"])
	})
}
