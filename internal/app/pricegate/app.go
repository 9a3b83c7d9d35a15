// Package pricegate собирает HTTP-сервис: хранилище, платёжного провайдера,
// сервисы доступа и подписок и маршруты.
package pricegate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/magabrotheeeer/pricegate/internal/app/bootstrap"
	"github.com/magabrotheeeer/pricegate/internal/config"
	"github.com/magabrotheeeer/pricegate/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pricegate/internal/lib/jwt"
	"github.com/magabrotheeeer/pricegate/internal/services/access"
	"github.com/magabrotheeeer/pricegate/internal/services/auth"
	"github.com/magabrotheeeer/pricegate/internal/services/devices"
)

const shutdownTimeout = 15 * time.Second

// App HTTP-сервис.
type App struct {
	server *http.Server
	logger *slog.Logger
	infra  *bootstrap.Infra
}

// New поднимает инфраструктуру и собирает маршруты. Метрики регистрируются в reg
// и отдаются на /metrics из gatherer.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, gatherer prometheus.Gatherer, logger *slog.Logger) (*App, error) {
	infra, err := bootstrap.Open(ctx, cfg, reg, logger)
	if err != nil {
		return nil, err
	}

	payments := bootstrap.NewPayments(cfg, infra, logger)
	evaluator := access.NewEvaluator(infra.Metrics)
	guard := devices.NewGuard(infra.Store, cfg.Devices.WebExemptEnabled(), infra.Metrics, logger)
	authService := auth.New(infra.Store, guard, jwt.NewJWTMaker(cfg.JWT.Secret, cfg.JWT.TokenTTL), infra.Publisher, auth.Config{
		AdminEmail:    cfg.Admin.Email,
		AdminPassword: cfg.Admin.Password,
		TrialDuration: cfg.Trial.Duration,
		MaxDevices:    cfg.Devices.MaxDevices,
	}, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Services{
		Auth:        authService,
		Access:      evaluator,
		Devices:     guard,
		Lifecycle:   payments.Lifecycle,
		Reconciler:  payments.Reconciler,
		Provider:    payments.Provider,
		Cache:       infra.Cache,
		Store:       infra.Store,
		CachePinger: infra.CachePinger(),
		Metrics:     infra.Metrics,
		Gatherer:    gatherer,
		Limiter:     middlewarectx.NewIPLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		FrontendURL: cfg.Stripe.FrontendURL,
		Debug:       !cfg.IsProd(),
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		infra:  infra,
	}, nil
}

// Handler корневой обработчик.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run обслуживает запросы до отмены ctx, затем корректно останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.infra.Close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.infra.Close()
		return err
	}
}
