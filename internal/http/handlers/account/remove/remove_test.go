package remove

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/pricegate/internal/http/handlers/handlertest"
	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/models"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) DeleteAccount(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func TestRemoveHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "deleted", wantCode: http.StatusOK},
		{name: "already gone", err: apperr.NotFound(apperr.TypeUserNotFound, "user not found"), wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &ServiceMock{}
			svc.On("DeleteAccount", mock.Anything, "u1").Return(tt.err).Once()

			req := handlertest.Authed(handlertest.Request(t, http.MethodDelete, "/me", nil), &models.Account{ID: "u1"}, "d")
			rec, _ := handlertest.Serve(t, New(handlertest.NoopLogger(), svc), req)

			assert.Equal(t, tt.wantCode, rec.Code)
			svc.AssertExpectations(t)
		})
	}
}
