package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: Validation(TypeInvalidPlan, "bad plan"), want: http.StatusBadRequest},
		{name: "authentication", err: Authentication(TypeTokenExpired, "expired"), want: http.StatusUnauthorized},
		{name: "authorization", err: Authorization(TypeDeviceLimitExceeded, "limit"), want: http.StatusForbidden},
		{name: "rate limited", err: Authorization(TypeTooManyRequests, "slow down"), want: http.StatusTooManyRequests},
		{name: "conflict", err: Conflict(TypeCheckoutInProgress, "in flight"), want: http.StatusConflict},
		{name: "not found", err: NotFound(TypeUserNotFound, "no user"), want: http.StatusNotFound},
		{name: "provider failure", err: External(TypePaymentProvider, "stripe down", errors.New("eof")), want: http.StatusBadGateway},
		{name: "provider not configured", err: External(TypePaymentNotConfigured, "no key", nil), want: http.StatusServiceUnavailable},
		{name: "server", err: Internal(errors.New("boom")), want: http.StatusInternalServerError},
		{name: "plain error", err: errors.New("boom"), want: http.StatusInternalServerError},
		{name: "wrapped apperr", err: fmt.Errorf("op: %w", Conflict(TypeConcurrentUpdate, "retry")), want: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestKindOfAndIs(t *testing.T) {
	cause := errors.New("db down")
	err := fmt.Errorf("services.auth.Login: %w", Internal(cause))

	assert.Equal(t, KindServer, KindOf(err))
	assert.Equal(t, KindServer, KindOf(errors.New("plain")))
	assert.True(t, Is(err, TypeInternal))
	assert.False(t, Is(err, TypeNoToken))
	assert.ErrorIs(t, err, cause)
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "bad plan", Validation(TypeInvalidPlan, "bad plan").Error())
	assert.Equal(t, "stripe down: eof", External(TypePaymentProvider, "stripe down", errors.New("eof")).Error())

	e := Authorization(TypeDeviceLimitExceeded, "limit").WithDetails(map[string]any{"maxDevices": 2})
	assert.Equal(t, 2, e.Details["maxDevices"])
}
