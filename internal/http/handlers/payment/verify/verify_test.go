package verify

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
	"github.com/magabrotheeeer/pricegate/internal/services/lifecycle"
	"github.com/magabrotheeeer/pricegate/internal/services/reconciler"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Verify(ctx context.Context, userID, sessionID string) (*lifecycle.Verification, error) {
	args := m.Called(ctx, userID, sessionID)
	v, _ := args.Get(0).(*lifecycle.Verification)
	return v, args.Error(1)
}

func (m *ServiceMock) Get(ctx context.Context, userID string) (*models.Subscription, access.Status, error) {
	args := m.Called(ctx, userID)
	s, _ := args.Get(0).(*models.Subscription)
	return s, args.Get(1).(access.Status), args.Error(2)
}

func TestVerifyHandler(t *testing.T) {
	session := &models.Account{ID: "u1"}

	t.Run("applied", func(t *testing.T) {
		svc := &ServiceMock{}
		sub := &models.Subscription{ID: "s1", UserID: "u1", Status: models.StatusActive, Plan: models.PlanMonthly}
		svc.On("Verify", mock.Anything, "u1", "cs_1").
			Return(&lifecycle.Verification{Status: models.StatusActive, Outcome: reconciler.OutcomeApplied, Subscription: sub}, nil).Once()
		svc.On("Get", mock.Anything, "u1").
			Return(sub, access.Status{HasActiveSubscription: true, AccessAllowed: true}, nil).Once()

		req := handlertest.Authed(handlertest.Request(t, http.MethodPost, "/verify-subscription", `{"sessionId":"cs_1"}`), session, "d")
		rec, body := handlertest.Serve(t, New(handlertest.NoopLogger(), svc), req)

		assert.Equal(t, http.StatusOK, rec.Code)
		data := handlertest.Data(t, body)
		assert.Equal(t, "active", data["status"])
		assert.Equal(t, "applied", data["outcome"])
		assert.Equal(t, false, data["pending"])
		assert.Equal(t, true, data["access"].(map[string]any)["accessAllowed"])
		svc.AssertExpectations(t)
	})

	t.Run("foreign session", func(t *testing.T) {
		svc := &ServiceMock{}
		svc.On("Verify", mock.Anything, "u1", "cs_other").
			Return(nil, apperr.NotFound(apperr.TypeSubscriptionNotFound, "checkout session not found")).Once()

		req := handlertest.Authed(handlertest.Request(t, http.MethodPost, "/verify-subscription", `{"sessionId":"cs_other"}`), session, "d")
		rec, body := handlertest.Serve(t, New(handlertest.NoopLogger(), svc), req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, apperr.TypeSubscriptionNotFound, body["errorType"])
		svc.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})

	t.Run("missing session id", func(t *testing.T) {
		req := handlertest.Authed(handlertest.Request(t, http.MethodPost, "/verify-subscription", `{}`), session, "d")
		rec, _ := handlertest.Serve(t, New(handlertest.NoopLogger(), &ServiceMock{}), req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
