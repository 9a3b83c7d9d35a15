package pricegate

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/pricegate/internal/cache"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/account/profile"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/account/remove"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/account/status"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/account/update"
	adminaccount "github.com/magabrotheeeer/pricegate/internal/http/handlers/admin/account"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/admin/devicereset"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/auth/logout"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/auth/register"
	devicelist "github.com/magabrotheeeer/pricegate/internal/http/handlers/devices/list"
	deviceremove "github.com/magabrotheeeer/pricegate/internal/http/handlers/devices/remove"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/health"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/payment/checkout"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/payment/plans"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/payment/redirect"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/payment/verify"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/payment/webhook"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/subscription/read"
	"github.com/magabrotheeeer/pricegate/internal/http/handlers/subscription/renew"
	"github.com/magabrotheeeer/pricegate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pricegate/internal/http/response"
	"github.com/magabrotheeeer/pricegate/internal/metrics"
	"github.com/magabrotheeeer/pricegate/internal/paymentprovider"
	"github.com/magabrotheeeer/pricegate/internal/services/access"
	"github.com/magabrotheeeer/pricegate/internal/services/auth"
	"github.com/magabrotheeeer/pricegate/internal/services/devices"
	"github.com/magabrotheeeer/pricegate/internal/services/lifecycle"
	"github.com/magabrotheeeer/pricegate/internal/services/reconciler"

	// Регистрация описания API для /docs.
	_ "github.com/magabrotheeeer/pricegate/docs"
)

// Services зависимости маршрутов.
type Services struct {
	Auth        *auth.Service
	Access      *access.Evaluator
	Devices     *devices.Guard
	Lifecycle   *lifecycle.Manager
	Reconciler  *reconciler.Reconciler
	Provider    *paymentprovider.Stripe
	Cache       *cache.Cache
	Store       health.Pinger
	CachePinger health.Pinger
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Limiter     *middlewarectx.IPLimiter
	FrontendURL string
	Debug       bool
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, s Services) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		s.Metrics.Middleware,
		response.WithDebug(s.Debug),
	)

	limited := middlewarectx.RateLimit(s.Limiter, logger)
	session := middlewarectx.Auth(s.Auth, logger)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Get("/health", health.New(logger, s.Store, s.CachePinger).ServeHTTP)
		r.Get("/plans", plans.New(logger, s.Lifecycle).ServeHTTP)
		r.Get("/checkout/success", redirect.NewSuccess(logger, s.Lifecycle, s.FrontendURL).ServeHTTP)
		r.Get("/checkout/cancel", redirect.NewCancel(logger, s.Lifecycle, s.FrontendURL).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(limited)
			r.Post("/register", register.New(logger, s.Auth).ServeHTTP)
			r.Post("/login", login.New(logger, s.Auth).ServeHTTP)
			r.Post("/webhook", webhook.New(logger, s.Provider, s.Reconciler, s.Cache).ServeHTTP)
		})

		// Группа с сессией
		r.Group(func(r chi.Router) {
			r.Use(session)
			r.Post("/logout", logout.New(logger, s.Auth).ServeHTTP)
			r.Get("/access-status", status.New(logger, s.Access).ServeHTTP)

			r.Get("/me", profile.New(logger, s.Auth).ServeHTTP)
			r.Patch("/me", update.New(logger, s.Auth).ServeHTTP)
			r.Delete("/me", remove.New(logger, s.Auth).ServeHTTP)

			r.Get("/devices", devicelist.New(logger, s.Devices).ServeHTTP)
			r.Post("/devices/remove", deviceremove.New(logger, s.Devices).ServeHTTP)

			r.Post("/checkout", checkout.New(logger, s.Lifecycle).ServeHTTP)
			r.Post("/verify-subscription", verify.New(logger, s.Lifecycle).ServeHTTP)
			r.Get("/subscription", read.New(logger, s.Lifecycle).ServeHTTP)
			r.Post("/subscription/renew", renew.New(logger, s.Lifecycle).ServeHTTP)
			r.Post("/subscription/cancel", cancel.New(logger, s.Lifecycle).ServeHTTP)

			// Данные только при действующем доступе
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireAccess(s.Access, logger))
				r.Get("/protected/profile", profile.New(logger, s.Auth).ServeHTTP)
				r.Get("/protected/subscription", read.New(logger, s.Lifecycle).ServeHTTP)
			})

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.AdminOnly(logger))
				r.Get("/admin/accounts/{id}", adminaccount.New(logger, s.Auth).ServeHTTP)
				r.Post("/admin/accounts/{id}/devices/reset", devicereset.New(logger, s.Devices).ServeHTTP)
			})
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
