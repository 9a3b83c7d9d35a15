// Package cache оборачивает redis: JSON-кэш с TTL и короткоживущие блокировки
// (SETNX) для защиты от повторного оформления оплаты и повторной обработки вебхуков.
//
// Методы нулевого *Cache ничего не делают: без redis сервис работает, теряя только быстрые пути.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/pricegate/internal/config"
)

// Cache клиент redis.
type Cache struct {
	Db *redis.Client
}

// InitServer подключается к redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.Redis) (*Cache, error) {
	const op = "cache.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Cache{Db: db}, nil
}

// Get читает значение и декодирует его в result. Второй результат false, если ключа нет.
func (c *Cache) Get(ctx context.Context, key string, result any) (bool, error) {
	const op = "cache.Get"
	if c == nil {
		return false, nil
	}
	val, err := c.Db.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err = json.Unmarshal([]byte(val), result); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// Set сохраняет значение в JSON с временем жизни expiration.
func (c *Cache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	const op = "cache.Set"
	if c == nil {
		return nil
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = c.Db.Set(ctx, key, jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Invalidate удаляет ключ.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	const op = "cache.Invalidate"
	if c == nil {
		return nil
	}
	if err := c.Db.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Acquire ставит блокировку key на ttl. Возвращает false, если блокировка уже занята.
// Без redis блокировка всегда считается полученной.
func (c *Cache) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	const op = "cache.Acquire"
	if c == nil {
		return true, nil
	}
	ok, err := c.Db.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

// Release снимает блокировку.
func (c *Cache) Release(ctx context.Context, key string) error {
	return c.Invalidate(ctx, key)
}

// Ping проверяет соединение.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.Db.Ping(ctx).Err()
}

// Close закрывает клиента.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.Db.Close()
}

// CheckoutLockKey ключ блокировки оформления оплаты пользователем для плана.
func CheckoutLockKey(userID, plan string) string {
	return "checkout:" + userID + ":" + plan
}

// CheckoutStateKey ключ снимка завершённой сессии оплаты.
func CheckoutStateKey(sessionID string) string {
	return "checkout:session:" + sessionID
}

// WebhookEventKey ключ отметки об обработанном событии провайдера.
func WebhookEventKey(eventID string) string {
	return "webhook:event:" + eventID
}

// TrialNoticeKey ключ отметки об отправленном уведомлении об окончании пробного периода.
func TrialNoticeKey(userID string, trialEnd time.Time) string {
	return fmt.Sprintf("trial:notice:%s:%d", userID, trialEnd.Unix())
}
