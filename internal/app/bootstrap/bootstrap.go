// Package bootstrap поднимает инфраструктуру, общую для HTTP-сервиса и фонового обработчика:
// хранилище выбранного драйвера, redis, публикатора событий и метрики.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/magabrotheeeer/pricegate/internal/cache"
	"github.com/magabrotheeeer/pricegate/internal/config"
	"github.com/magabrotheeeer/pricegate/internal/lib/sl"
	"github.com/magabrotheeeer/pricegate/internal/metrics"
	"github.com/magabrotheeeer/pricegate/internal/migrations"
	"github.com/magabrotheeeer/pricegate/internal/rabbitmq"
	"github.com/magabrotheeeer/pricegate/internal/services/auth"
	"github.com/magabrotheeeer/pricegate/internal/services/lifecycle"
	"github.com/magabrotheeeer/pricegate/internal/services/reconciler"
	"github.com/magabrotheeeer/pricegate/internal/services/sweeper"
	"github.com/magabrotheeeer/pricegate/internal/storage/memory"
	"github.com/magabrotheeeer/pricegate/internal/storage/mongostore"
	"github.com/magabrotheeeer/pricegate/internal/storage/repository"
)

const (
	dbReadyAttempts = 10
	dbReadyDelay    = 3 * time.Second
)

// Store объединение контрактов хранилища, которые нужны сервисам.
// Ему удовлетворяют repository.Storage, mongostore.Store и memory.Store.
type Store interface {
	lifecycle.Store
	reconciler.Store
	auth.AccountStore
	sweeper.TrialStore
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*repository.Storage)(nil)
	_ Store = (*mongostore.Store)(nil)
	_ Store = (*memory.Store)(nil)
)

// Infra открытые подключения.
type Infra struct {
	Store     Store
	Cache     *cache.Cache
	Publisher *rabbitmq.Publisher
	Metrics   *metrics.Metrics

	log *slog.Logger
}

// Open подключает хранилище и, если включены, redis и RabbitMQ.
// Метрики регистрируются в reg.
func Open(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, log *slog.Logger) (*Infra, error) {
	const op = "bootstrap.Open"

	store, err := OpenStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	infra := &Infra{Store: store, Metrics: metrics.New(reg), log: log}

	if cfg.Redis.Enabled {
		c, err := cache.InitServer(ctx, cfg.Redis)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("%s: redis: %w", op, err)
		}
		infra.Cache = c
		log.Info("redis connected", slog.String("address", cfg.Redis.Address))
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("%s: rabbitmq: %w", op, err)
		}
		ch, err := rabbitmq.SetupChannel(conn, cfg.RabbitMQ.Exchange, rabbitmq.SubscriptionQueues())
		if err != nil {
			_ = conn.Close()
			infra.Close()
			return nil, fmt.Errorf("%s: rabbitmq channel: %w", op, err)
		}
		infra.Publisher = rabbitmq.NewPublisher(conn, ch, cfg.RabbitMQ.Exchange)
		log.Info("rabbitmq connected", slog.String("exchange", cfg.RabbitMQ.Exchange))
	}
	return infra, nil
}

// OpenStore открывает хранилище выбранного драйвера. Для PostgreSQL ждёт готовности базы
// и применяет миграции.
func OpenStore(ctx context.Context, cfg config.Storage, log *slog.Logger) (Store, error) {
	const op = "bootstrap.OpenStore"

	switch cfg.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	case config.DriverMongo:
		s, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase, dbReadyAttempts, dbReadyDelay)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("mongo storage ready", slog.String("database", cfg.MongoDatabase))
		return s, nil
	case config.DriverPostgres:
		s, err := waitForDB(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := migrations.Run(s.DB, cfg.MigrationsPath); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("postgres storage ready")
		return s, nil
	default:
		return nil, fmt.Errorf("%s: unknown storage driver %q", op, cfg.Driver)
	}
}

func waitForDB(ctx context.Context, dsn string, log *slog.Logger) (*repository.Storage, error) {
	var lastErr error
	for i := 0; i < dbReadyAttempts; i++ {
		s, err := repository.New(ctx, dsn)
		if err == nil {
			return s, nil
		}
		lastErr = err
		log.Warn("database is not ready", slog.Int("attempt", i+1), sl.Err(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dbReadyDelay):
		}
	}
	return nil, fmt.Errorf("database not ready after %d attempts: %w", dbReadyAttempts, lastErr)
}

// CachePinger возвращает redis для проверки готовности или nil, если он выключен.
func (i *Infra) CachePinger() interface{ Ping(context.Context) error } {
	if i.Cache == nil {
		return nil
	}
	return i.Cache
}

// Close закрывает все подключения.
func (i *Infra) Close() {
	if err := i.Publisher.Close(); err != nil {
		i.log.Error("failed to close rabbitmq publisher", sl.Err(err))
	}
	if err := i.Cache.Close(); err != nil {
		i.log.Error("failed to close redis", sl.Err(err))
	}
	if i.Store != nil {
		if err := i.Store.Close(); err != nil {
			i.log.Error("failed to close storage", sl.Err(err))
		}
	}
}
