package bootstrap

import (
	"log/slog"

	"github.com/magabrotheeeer/pricegate/internal/config"
	"github.com/magabrotheeeer/pricegate/internal/paymentprovider"
	"github.com/magabrotheeeer/pricegate/internal/services/lifecycle"
	"github.com/magabrotheeeer/pricegate/internal/services/reconciler"
)

// Payments провайдер, реконсилятор и менеджер подписок поверх открытой инфраструктуры.
type Payments struct {
	Provider   *paymentprovider.Stripe
	Reconciler *reconciler.Reconciler
	Lifecycle  *lifecycle.Manager
}

// NewPayments собирает платёжную часть.
func NewPayments(cfg *config.Config, infra *Infra, log *slog.Logger) Payments {
	provider := paymentprovider.NewStripe(paymentprovider.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
	})
	if !provider.Configured() {
		log.Warn("stripe is not configured, checkout will answer 503")
	}

	rec := reconciler.New(infra.Store, infra.Publisher, infra.Metrics, log)
	manager := lifecycle.New(lifecycle.Deps{
		Store:      infra.Store,
		Provider:   provider,
		Reconciler: rec,
		Locker:     infra.Cache,
		Sessions:   infra.Cache,
		Publisher:  infra.Publisher,
		Metrics:    infra.Metrics,
	}, lifecycle.Config{
		PendingWindow: cfg.Checkout.PendingWindow,
		StaleAfter:    cfg.Checkout.StaleAfter,
		Currency:      cfg.Checkout.Currency,
	}, log)

	return Payments{Provider: provider, Reconciler: rec, Lifecycle: manager}
}
