package checkout

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/pricegate/internal/http/handlers/handlertest"
	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/services/lifecycle"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) InitiateCheckout(ctx context.Context, userID string, plan models.Plan) (*lifecycle.Checkout, error) {
	args := m.Called(ctx, userID, plan)
	c, _ := args.Get(0).(*lifecycle.Checkout)
	return c, args.Error(1)
}

func TestCheckoutHandler(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		setup    func(*ServiceMock)
		wantCode int
		wantType string
	}{
		{
			name: "created",
			body: `{"plan":"monthly"}`,
			setup: func(m *ServiceMock) {
				m.On("InitiateCheckout", mock.Anything, "u1", models.PlanMonthly).Return(&lifecycle.Checkout{
					IdempotencyKey: "key-1",
					SessionID:      "cs_1",
					URL:            "https://checkout.example/cs_1",
					ExpiresAt:      time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC),
				}, nil).Once()
			},
			wantCode: http.StatusCreated,
		},
		{
			name: "unknown plan",
			body: `{"plan":"weekly"}`,
			setup: func(m *ServiceMock) {
				m.On("InitiateCheckout", mock.Anything, "u1", models.Plan("weekly")).
					Return(nil, apperr.Validation(apperr.TypeInvalidPlan, "unknown plan weekly")).Once()
			},
			wantCode: http.StatusBadRequest,
			wantType: apperr.TypeInvalidPlan,
		},
		{
			name: "already in progress",
			body: `{"plan":"annual"}`,
			setup: func(m *ServiceMock) {
				m.On("InitiateCheckout", mock.Anything, "u1", models.PlanAnnual).
					Return(nil, apperr.Conflict(apperr.TypeCheckoutInProgress, "checkout in progress")).Once()
			},
			wantCode: http.StatusConflict,
			wantType: apperr.TypeCheckoutInProgress,
		},
		{
			name: "provider not configured",
			body: `{"plan":"monthly"}`,
			setup: func(m *ServiceMock) {
				m.On("InitiateCheckout", mock.Anything, "u1", models.PlanMonthly).
					Return(nil, apperr.External(apperr.TypePaymentNotConfigured, "payments are not configured", nil)).Once()
			},
			wantCode: http.StatusServiceUnavailable,
			wantType: apperr.TypePaymentNotConfigured,
		},
		{
			name:     "missing plan",
			body:     `{}`,
			setup:    func(*ServiceMock) {},
			wantCode: http.StatusBadRequest,
			wantType: apperr.TypeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &ServiceMock{}
			tt.setup(svc)

			req := handlertest.Authed(handlertest.Request(t, http.MethodPost, "/checkout", tt.body), &models.Account{ID: "u1"}, "web-1")
			rec, body := handlertest.Serve(t, New(handlertest.NoopLogger(), svc), req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantType != "" {
				assert.Equal(t, false, body["success"])
				assert.Equal(t, tt.wantType, body["errorType"])
			} else {
				data := handlertest.Data(t, body)
				assert.Equal(t, "key-1", data["idempotencyKey"])
				assert.Equal(t, "cs_1", data["sessionId"])
				assert.Equal(t, "https://checkout.example/cs_1", data["url"])
			}
			svc.AssertExpectations(t)
		})
	}
}
