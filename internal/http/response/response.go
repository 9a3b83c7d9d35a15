// Package response формирует единые JSON-ответы HTTP-обработчиков:
// успешный конверт {success: true, message?, data?} и конверт ошибки
// {success: false, message, errorType?, details?} со статусом из apperr.
package response

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
)

// Response стандартная структура JSON-ответа сервера.
type Response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// ErrorResponse структура ошибки для Swagger-документации.
type ErrorResponse struct {
	Success   bool   `json:"success" example:"false"`
	Message   string `json:"message" example:"invalid request body"`
	ErrorType string `json:"errorType,omitempty" example:"VALIDATION_ERROR"`
}

// OK возвращает успешный ответ с данными.
func OK(data any) Response {
	return Response{Success: true, Data: data}
}

// OKWithMessage возвращает успешный ответ с сообщением и данными.
func OKWithMessage(msg string, data any) Response {
	return Response{Success: true, Message: msg, Data: data}
}

// Error возвращает ответ с ошибкой.
func Error(msg, errorType string) Response {
	return Response{Success: false, Message: msg, ErrorType: errorType}
}

// JSON пишет тело v со статусом status.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

type debugKey struct{}

// WithDebug включает в ответы об ошибках текст внутренней причины. Не для боевого окружения.
func WithDebug(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), debugKey{}, enabled)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func debugEnabled(r *http.Request) bool {
	on, _ := r.Context().Value(debugKey{}).(bool)
	return on
}

// Fail пишет ответ об ошибке. Ошибки вне apperr отображаются как серверные
// с общим сообщением; внутренняя причина попадает в details только в режиме отладки.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err)
	}

	resp := Error(e.Message, e.Type)
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	if debugEnabled(r) && e.Err != nil {
		details["cause"] = e.Err.Error()
	}
	if len(details) > 0 {
		resp.Details = details
	}
	JSON(w, r, apperr.HTTPStatus(e), resp)
}

// Decode читает JSON-тело запроса в dst и проверяет его теги validate.
// Возвращает ошибку VALIDATION с читаемым текстом.
func Decode(r *http.Request, v *validator.Validate, dst any) error {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		return apperr.Validation(apperr.TypeValidation, "invalid request body")
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return apperr.Validation(apperr.TypeValidation, ValidationMessage(verrs))
		}
		return apperr.Validation(apperr.TypeValidation, err.Error())
	}
	return nil
}

// ValidationMessage объединяет нарушения в одну строку через запятую.
func ValidationMessage(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("field %s must be at least %s characters", err.Field(), err.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("field %s must be at most %s characters", err.Field(), err.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("field %s must be one of: %s", err.Field(), err.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}
	return strings.Join(msgs, ", ")
}
