// Package webhook принимает уведомления платёжного провайдера.
//
// Подпись проверяется до любой обработки. Ошибка применения события
// отдаётся не-2xx статусом, чтобы провайдер повторил доставку. Отметка
// в redis по идентификатору события только срезает повторы; корректность
// обеспечивает условное обновление в реконсиляторе.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/pricegate/internal/cache"
	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/lib/apperr"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/paymentprovider"
	"github.com/magabrotheeeer/pricegate/internal/services/reconciler"
)

const (
	maxBodyBytes    = 65536
	signatureHeader = "Stripe-Signature"
	seenTTL         = 24 * time.Hour
)

// Parser проверяет подпись и разбирает событие.
type Parser interface {
	ParseWebhook(payload []byte, signature string) (*paymentprovider.WebhookEvent, error)
}

// Reconciler применяет событие оплаты.
type Reconciler interface {
	Reconcile(ctx context.Context, ev models.PaymentEvent) (reconciler.Result, error)
}

// Deduper отметки об обработанных событиях.
type Deduper interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Handler обрабатывает POST /webhook.
type Handler struct {
	log        *slog.Logger
	parser     Parser
	reconciler Reconciler
	seen       Deduper
}

// New создаёт Handler.
func New(log *slog.Logger, parser Parser, rec Reconciler, seen Deduper) *Handler {
	return &Handler{log: log, parser: parser, reconciler: rec, seen: seen}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного провайдера
// @Tags Payment
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Подпись события"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("failed to read webhook body", sl.Err(err))
		response.Fail(w, r, apperr.Validation(apperr.TypeValidation, "request body is too large or unreadable"))
		return
	}

	evt, err := h.parser.ParseWebhook(payload, r.Header.Get(signatureHeader))
	switch {
	case errors.Is(err, paymentprovider.ErrNotConfigured):
		log.Error("webhook received but payments are not configured")
		response.Fail(w, r, apperr.External(apperr.TypePaymentNotConfigured, "payment provider is not configured", err))
		return
	case errors.Is(err, paymentprovider.ErrInvalidSignature):
		log.Warn("webhook signature rejected", sl.Err(err))
		response.Fail(w, r, apperr.Validation(apperr.TypeInvalidSignature, "invalid webhook signature"))
		return
	case err != nil:
		log.Warn("malformed webhook payload", sl.Err(err))
		response.Fail(w, r, apperr.Validation(apperr.TypeValidation, "malformed webhook payload"))
		return
	}

	log = log.With(slog.String("event_id", evt.ID), slog.String("event_type", evt.ProviderType))
	if evt.Event == nil {
		log.Debug("webhook event ignored", slog.String("reason", evt.IgnoreReason))
		response.JSON(w, r, http.StatusOK, response.OKWithMessage("ignored", nil))
		return
	}

	key := cache.WebhookEventKey(evt.ID)
	fresh, err := h.seen.Acquire(r.Context(), key, seenTTL)
	if err != nil {
		log.Warn("webhook dedupe unavailable", sl.Err(err))
		fresh = true
	}
	if !fresh {
		log.Info("webhook event already processed")
		response.JSON(w, r, http.StatusOK, response.OKWithMessage("duplicate", nil))
		return
	}

	res, err := h.reconciler.Reconcile(r.Context(), *evt.Event)
	if err != nil {
		log.Error("failed to reconcile webhook event", sl.Err(err))
		if relErr := h.seen.Release(context.WithoutCancel(r.Context()), key); relErr != nil {
			log.Warn("failed to release webhook event mark", sl.Err(relErr))
		}
		response.Fail(w, r, err)
		return
	}

	log.Info("webhook event reconciled",
		slog.String("user_id", evt.Event.UserID),
		slog.String("outcome", string(res.Outcome)),
	)
	response.JSON(w, r, http.StatusOK, response.OK(map[string]any{
		"received": true,
		"outcome":  res.Outcome,
	}))
}
