package account

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/pricegate/internal/http/handlers/handlertest"
	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/access"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Profile(ctx context.Context, userID string) (*models.Account, access.Status, error) {
	args := m.Called(ctx, userID)
	a, _ := args.Get(0).(*models.Account)
	return a, args.Get(1).(access.Status), args.Error(2)
}

func TestAdminAccountHandler(t *testing.T) {
	tests := []struct {
		name     string
		account  *models.Account
		err      error
		wantCode int
	}{
		{
			name:     "found",
			account:  &models.Account{ID: "u42", Email: "bob@example.com", Devices: []models.Device{{DeviceID: "ios-1"}}},
			wantCode: http.StatusOK,
		},
		{name: "unknown", err: apperr.NotFound(apperr.TypeUserNotFound, "user not found"), wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &ServiceMock{}
			svc.On("Profile", mock.Anything, "u42").Return(tt.account, access.Status{Reason: access.ReasonTrialExpired}, tt.err).Once()

			req := handlertest.Request(t, http.MethodGet, "/admin/accounts/u42", nil)
			req = handlertest.WithURLParam(req, "id", "u42")
			rec, body := handlertest.Serve(t, New(handlertest.NoopLogger(), svc), req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.err == nil {
				data := handlertest.Data(t, body)
				assert.Equal(t, "bob@example.com", data["user"].(map[string]any)["email"])
				assert.Equal(t, string(access.ReasonTrialExpired), data["access"].(map[string]any)["reason"])
			}
			svc.AssertExpectations(t)
		})
	}
}
