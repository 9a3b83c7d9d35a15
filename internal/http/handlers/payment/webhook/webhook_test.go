package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/magabrotheeeer/pricegate/internal/cache"
	"github.com/magabrotheeeer/pricegate/internal/config"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/handlertest"
	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/paymentprovider"
	"github.com/magabrotheeeer/pricegate/internal/services/reconciler"
	"github.com/magabrotheeeer/pricegate/internal/storage/memory"
)

const secret = "whsec_test"

type ReconcilerMock struct {
	mock.Mock
}

func (m *ReconcilerMock) Reconcile(ctx context.Context, ev models.PaymentEvent) (reconciler.Result, error) {
	args := m.Called(ctx, ev)
	return args.Get(0).(reconciler.Result), args.Error(1)
}

func newCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	c, err := cache.InitServer(context.Background(), config.Redis{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func signed(t *testing.T, id, eventType string, object map[string]any) (string, string) {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": json.RawMessage(raw)},
	})
	require.NoError(t, err)
	s := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret, Timestamp: time.Now()})
	return string(s.Payload), s.Header
}

func completedSession() map[string]any {
	return map[string]any{
		"id":             "cs_1",
		"object":         "checkout.session",
		"status":         "complete",
		"payment_status": "paid",
		"amount_total":   20000,
		"metadata":       map[string]string{"user_id": "u1", "plan": "monthly", "idempotency_key": "k1"},
	}
}

func post(t *testing.T, h http.Handler, body, signature string) (int, map[string]any) {
	t.Helper()
	req := handlertest.Request(t, http.MethodPost, "/webhook", body)
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec, resp := handlertest.Serve(t, h, req)
	return rec.Code, resp
}

func TestWebhook_AppliesOnceAndAcknowledgesDuplicates(t *testing.T) {
	c, _ := newCache(t)
	rec := &ReconcilerMock{}
	rec.On("Reconcile", mock.Anything, mock.MatchedBy(func(ev models.PaymentEvent) bool {
		return ev.Type == models.EventCheckoutCompleted && ev.UserID == "u1" && ev.IdempotencyKey == "k1"
	})).Return(reconciler.Result{Outcome: reconciler.OutcomeApplied}, nil).Once()

	h := New(handlertest.NoopLogger(), paymentprovider.NewStripe(paymentprovider.StripeConfig{WebhookSecret: secret}), rec, c)
	body, sig := signed(t, "evt_1", "checkout.session.completed", completedSession())

	code, resp := post(t, h, body, sig)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "applied", handlertest.Data(t, resp)["outcome"])

	code, resp = post(t, h, body, sig)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "duplicate", resp["message"])
	rec.AssertExpectations(t)
}

func TestWebhook_DeclinedCardThenPaidActivates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Now().UTC()
	require.NoError(t, store.CreateAccount(ctx, &models.Account{ID: "u1", Email: "u1@example.com", Role: models.RoleUser, MaxDevices: 2}))
	require.NoError(t, store.CreateSubscription(ctx, &models.Subscription{
		ID: "sub-1", UserID: "u1", Plan: models.PlanMonthly, Amount: models.PlanMonthly.Amount(),
		Status: models.StatusPending, PaymentStatus: models.PaymentPending,
		StartDate: now, EndDate: now.AddDate(0, 1, 0),
		IdempotencyKey: "k1", SessionID: "cs_1", PaymentAttempts: 1, LastPaymentAttempt: &now,
		PaymentHistory: []models.PaymentRecord{{Date: now, Status: models.AttemptPending, SessionID: "cs_1", IdempotencyKey: "k1", Plan: models.PlanMonthly}},
	}))

	c, _ := newCache(t)
	rec := reconciler.New(store, nil, nil, handlertest.NoopLogger())
	h := New(handlertest.NoopLogger(), paymentprovider.NewStripe(paymentprovider.StripeConfig{WebhookSecret: secret}), rec, c)

	body, sig := signed(t, "evt_declined", "payment_intent.payment_failed", map[string]any{
		"id":                 "pi_1",
		"object":             "payment_intent",
		"status":             "requires_payment_method",
		"metadata":           map[string]string{"user_id": "u1", "plan": "monthly", "idempotency_key": "k1"},
		"last_payment_error": map[string]any{"code": "card_declined"},
	})
	code, resp := post(t, h, body, sig)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "applied", handlertest.Data(t, resp)["outcome"])

	body, sig = signed(t, "evt_paid", "checkout.session.completed", completedSession())
	code, resp = post(t, h, body, sig)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "applied", handlertest.Data(t, resp)["outcome"])

	sub, err := store.GetSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, sub.Status)
	assert.Equal(t, models.PaymentSucceeded, sub.PaymentStatus)
	a, err := store.GetAccountByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, a.IsSubscribed)
}

func TestWebhook_Rejections(t *testing.T) {
	body, _ := signed(t, "evt_1", "checkout.session.completed", completedSession())

	tests := []struct {
		name      string
		provider  *paymentprovider.Stripe
		signature string
		wantCode  int
		wantType  string
	}{
		{
			name:      "bad signature",
			provider:  paymentprovider.NewStripe(paymentprovider.StripeConfig{WebhookSecret: secret}),
			signature: fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()),
			wantCode:  http.StatusBadRequest,
			wantType:  apperr.TypeInvalidSignature,
		},
		{
			name:     "missing signature",
			provider: paymentprovider.NewStripe(paymentprovider.StripeConfig{WebhookSecret: secret}),
			wantCode: http.StatusBadRequest,
			wantType: apperr.TypeInvalidSignature,
		},
		{
			name:      "not configured",
			provider:  paymentprovider.NewStripe(paymentprovider.StripeConfig{}),
			signature: "t=1,v1=x",
			wantCode:  http.StatusServiceUnavailable,
			wantType:  apperr.TypePaymentNotConfigured,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &ReconcilerMock{}
			code, resp := post(t, New(handlertest.NoopLogger(), tt.provider, rec, (*cache.Cache)(nil)), body, tt.signature)

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantType, resp["errorType"])
			rec.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
		})
	}
}

func TestWebhook_IgnoredEventType(t *testing.T) {
	rec := &ReconcilerMock{}
	h := New(handlertest.NoopLogger(), paymentprovider.NewStripe(paymentprovider.StripeConfig{WebhookSecret: secret}), rec, (*cache.Cache)(nil))
	body, sig := signed(t, "evt_2", "customer.created", map[string]any{"id": "cus_1", "object": "customer"})

	code, resp := post(t, h, body, sig)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ignored", resp["message"])
	rec.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
}

func TestWebhook_FailureReleasesMarkForRedelivery(t *testing.T) {
	c, mr := newCache(t)
	rec := &ReconcilerMock{}
	rec.On("Reconcile", mock.Anything, mock.Anything).
		Return(reconciler.Result{}, apperr.Internal(errors.New("db down"))).Once()
	rec.On("Reconcile", mock.Anything, mock.Anything).
		Return(reconciler.Result{Outcome: reconciler.OutcomeApplied}, nil).Once()

	h := New(handlertest.NoopLogger(), paymentprovider.NewStripe(paymentprovider.StripeConfig{WebhookSecret: secret}), rec, c)
	body, sig := signed(t, "evt_3", "checkout.session.completed", completedSession())

	code, _ := post(t, h, body, sig)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, mr.Exists(cache.WebhookEventKey("evt_3")))

	code, _ = post(t, h, body, sig)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, mr.Exists(cache.WebhookEventKey("evt_3")))
	rec.AssertExpectations(t)
}

func TestWebhook_OversizedBody(t *testing.T) {
	rec := &ReconcilerMock{}
	h := New(handlertest.NoopLogger(), paymentprovider.NewStripe(paymentprovider.StripeConfig{WebhookSecret: secret}), rec, (*cache.Cache)(nil))

	code, resp := post(t, h, strings.Repeat("a", maxBodyBytes+1), "t=1,v1=x")

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, apperr.TypeValidation, resp["errorType"])
}
