package login

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
	"github.com/magabrotheeeer/pricegate/internal/services/auth"
	"github.com/magabrotheeeer/pricegate/internal/services/devices"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Login(ctx context.Context, in auth.LoginInput) (*auth.Session, error) {
	args := m.Called(ctx, in)
	sess, _ := args.Get(0).(*auth.Session)
	return sess, args.Error(1)
}

func TestLoginHandler(t *testing.T) {
	valid := Request{Email: "ann@example.com", Password: "secret1", DeviceID: "iphone-1"}
	limitErr := devices.LimitError(devices.Result{Reason: devices.ReasonDeviceLimitExceeded, CurrentDevices: 2, MaxDevices: 2})

	tests := []struct {
		name     string
		body     any
		setup    func(m *ServiceMock)
		wantCode int
		wantType string
		check    func(t *testing.T, body map[string]any)
	}{
		{
			name: "expired trial still logs in",
			body: valid,
			setup: func(m *ServiceMock) {
				m.On("Login", mock.Anything, auth.LoginInput{Email: valid.Email, Password: valid.Password, DeviceID: valid.DeviceID}).
					Return(&auth.Session{
						Token:   "tok",
						Account: &models.Account{ID: "u1"},
						Access:  access.Status{TrialExpired: true, Reason: access.ReasonTrialExpired},
						Device:  devices.Result{Admitted: true, Reason: devices.ReasonKnownDevice, CurrentDevices: 1, MaxDevices: 2},
					}, nil).Once()
			},
			wantCode: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				data := handlertest.Data(t, body)
				assert.Equal(t, "tok", data["token"])
				assert.Equal(t, float64(1), data["deviceCount"])
				st := data["access"].(map[string]any)
				assert.Equal(t, false, st["accessAllowed"])
				assert.Equal(t, "trial_expired", st["reason"])
			},
		},
		{
			name:     "missing device",
			body:     Request{Email: "ann@example.com", Password: "secret1"},
			wantCode: http.StatusBadRequest,
			wantType: apperr.TypeValidation,
		},
		{
			name: "bad credentials",
			body: valid,
			setup: func(m *ServiceMock) {
				m.On("Login", mock.Anything, mock.Anything).
					Return(nil, apperr.Authentication(apperr.TypeInvalidCredentials, "invalid email or password")).Once()
			},
			wantCode: http.StatusUnauthorized,
			wantType: apperr.TypeInvalidCredentials,
		},
		{
			name: "device limit",
			body: valid,
			setup: func(m *ServiceMock) {
				m.On("Login", mock.Anything, mock.Anything).Return(nil, limitErr).Once()
			},
			wantCode: http.StatusForbidden,
			wantType: apperr.TypeDeviceLimitExceeded,
			check: func(t *testing.T, body map[string]any) {
				details := body["details"].(map[string]any)
				assert.Equal(t, float64(2), details["currentDevices"])
				assert.Equal(t, float64(2), details["maxDevices"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &ServiceMock{}
			if tt.setup != nil {
				tt.setup(svc)
			}
			rec, body := handlertest.Serve(t, New(handlertest.NoopLogger(), svc),
				handlertest.Request(t, http.MethodPost, "/login", tt.body))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, body["errorType"])
			}
			if tt.check != nil {
				tt.check(t, body)
			}
			svc.AssertExpectations(t)
		})
	}
}
