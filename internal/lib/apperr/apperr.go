// Package apperr описывает таксономию ошибок, видимых клиенту API.
//
// Каждая ошибка имеет вид (Kind), определяющий HTTP-статус, и машинный код
// Type, который клиент получает в поле errorType.
package apperr

import (
	"errors"
	"net/http"
)

// Kind вид ошибки.
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindAuthentication  Kind = "AUTHENTICATION"
	KindAuthorization   Kind = "AUTHORIZATION"
	KindConflict        Kind = "CONFLICT"
	KindNotFound        Kind = "NOT_FOUND"
	KindExternalService Kind = "EXTERNAL_SERVICE"
	KindServer          Kind = "SERVER"
)

// Машинные коды ошибок.
const (
	TypeValidation           = "VALIDATION_ERROR"
	TypeInvalidPlan          = "INVALID_PLAN"
	TypeInvalidCredentials   = "INVALID_CREDENTIALS"
	TypeNoToken              = "NO_TOKEN"
	TypeTokenExpired         = "TOKEN_EXPIRED"
	TypeInvalidToken         = "INVALID_TOKEN"
	TypeUserNotFound         = "USER_NOT_FOUND"
	TypeDeviceRevoked        = "DEVICE_REVOKED"
	TypeTrialExpired         = "TRIAL_EXPIRED"
	TypeSubscriptionExpired  = "SUBSCRIPTION_EXPIRED"
	TypeDeviceLimitExceeded  = "DEVICE_LIMIT_EXCEEDED"
	TypeAdminOnly            = "ADMIN_ONLY"
	TypeEmailTaken           = "EMAIL_TAKEN"
	TypeCheckoutInProgress   = "CHECKOUT_IN_PROGRESS"
	TypeIdempotencyCollision = "IDEMPOTENCY_COLLISION"
	TypeConcurrentUpdate     = "CONCURRENT_UPDATE"
	TypeDeviceNotFound       = "DEVICE_NOT_FOUND"
	TypeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	TypeRenewalNotConfirmed  = "RENEWAL_NOT_CONFIRMED"
	TypeInvalidSignature     = "INVALID_SIGNATURE"
	TypePaymentProvider      = "PAYMENT_PROVIDER_ERROR"
	TypePaymentNotConfigured = "PAYMENT_PROVIDER_NOT_CONFIGURED"
	TypeInternal             = "SERVER_ERROR"
	TypeTooManyRequests      = "TOO_MANY_REQUESTS"
)

// Error ошибка с видом и кодом для клиента.
type Error struct {
	Kind    Kind
	Type    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails добавляет к ошибке данные для клиента, например счётчики устройств.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// New создаёт ошибку без причины.
func New(kind Kind, typ, msg string) *Error {
	return &Error{Kind: kind, Type: typ, Message: msg}
}

// Wrap создаёт ошибку с причиной err.
func Wrap(kind Kind, typ, msg string, err error) *Error {
	return &Error{Kind: kind, Type: typ, Message: msg, Err: err}
}

func Validation(typ, msg string) *Error { return New(KindValidation, typ, msg) }

func Authentication(typ, msg string) *Error { return New(KindAuthentication, typ, msg) }

func Authorization(typ, msg string) *Error { return New(KindAuthorization, typ, msg) }

func Conflict(typ, msg string) *Error { return New(KindConflict, typ, msg) }

func NotFound(typ, msg string) *Error { return New(KindNotFound, typ, msg) }

func External(typ, msg string, err error) *Error { return Wrap(KindExternalService, typ, msg, err) }

func Internal(err error) *Error { return Wrap(KindServer, TypeInternal, "internal server error", err) }

// As извлекает *Error из цепочки ошибок.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf возвращает вид ошибки; всё, что не *Error, считается серверной ошибкой.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindServer
}

// Is сообщает, что в цепочке есть *Error с данным кодом.
func Is(err error, typ string) bool {
	e, ok := As(err)
	return ok && e.Type == typ
}

// HTTPStatus отображает ошибку в HTTP-статус.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		if e.Type == TypeTooManyRequests {
			return http.StatusTooManyRequests
		}
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindExternalService:
		if e.Type == TypePaymentNotConfigured {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
