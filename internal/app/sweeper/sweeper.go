// Package sweeper содержит фоновый обработчик подписок: по расписанию cron
// закрывает брошенные оплаты, истёкшие подписки и рассылает уведомления о конце пробного периода.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/magabrotheeeer/pricegate/internal/app/bootstrap"
	"github.com/magabrotheeeer/pricegate/internal/config"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	sweeperservice "github.com/magabrotheeeer/pricegate/internal/services/sweeper"
)

const shutdownTimeout = 15 * time.Second

// App фоновый обработчик.
type App struct {
	cron       *cron.Cron
	sweeper    *sweeperservice.Sweeper
	metricsSrv *http.Server
	infra      *bootstrap.Infra
	schedule   string
	runOnStart bool
	logger     *slog.Logger
}

// New поднимает инфраструктуру и готовит расписание.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, gatherer prometheus.Gatherer, logger *slog.Logger) (*App, error) {
	infra, err := bootstrap.Open(ctx, cfg, reg, logger)
	if err != nil {
		return nil, err
	}
	payments := bootstrap.NewPayments(cfg, infra, logger)

	// без брокера уведомлять некому, и отметки об отправке ставить нельзя
	var publisher sweeperservice.Publisher
	if infra.Publisher != nil {
		publisher = infra.Publisher
	}
	sw := sweeperservice.New(
		payments.Lifecycle,
		infra.Store,
		publisher,
		infra.Cache,
		infra.Metrics,
		cfg.Sweeper.TrialNoticeWindow,
		logger,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &App{
		cron:    cron.New(),
		sweeper: sw,
		metricsSrv: &http.Server{
			Addr:              cfg.Sweeper.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		infra:      infra,
		schedule:   cfg.Sweeper.Schedule,
		runOnStart: cfg.Sweeper.RunOnStart,
		logger:     logger,
	}, nil
}

// Run запускает расписание и ждёт отмены ctx. Идущая обработка дорабатывает до конца.
func (a *App) Run(ctx context.Context) error {
	const op = "app.sweeper.Run"
	defer a.infra.Close()

	if _, err := a.sweeper.Schedule(ctx, a.cron, a.schedule); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	go func() {
		a.logger.Info("metrics server starting on", slog.String("address", a.metricsSrv.Addr))
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", sl.Err(err))
		}
	}()

	if a.runOnStart {
		a.sweeper.RunOnce(ctx)
	}
	a.cron.Start()
	a.logger.Info("sweeper scheduled", slog.String("schedule", a.schedule))

	<-ctx.Done()
	a.logger.Info("shutting down sweeper")

	stopped := a.cron.Stop()
	timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	select {
	case <-stopped.Done():
	case <-timeoutCtx.Done():
		a.logger.Warn("sweep did not finish before shutdown timeout")
	}
	return a.metricsSrv.Shutdown(timeoutCtx)
}
