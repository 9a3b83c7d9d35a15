package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/storage"
)

const subscriptionColumns = `id, user_id, plan, amount, currency, status, payment_status, failure_reason,
	start_date, end_date, trial_end, idempotency_key, session_id, payment_history, payment_attempts,
	last_payment_attempt, last_payment_date, version, created_at, updated_at`

const (
	userUniqueConstraint = "subscriptions_user_id_key"
	idempotencyKeyIndex  = "idx_subscriptions_idempotency_key"
)

func scanSubscription(row scanner) (*models.Subscription, error) {
	var (
		sub                                 models.Subscription
		plan, status, paymentStatus, reason string
		trialEnd, lastAttempt, lastPayment  sql.NullTime
		key                                 sql.NullString
		history                             []byte
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &plan, &sub.Amount, &sub.Currency, &status, &paymentStatus, &reason,
		&sub.StartDate, &sub.EndDate, &trialEnd, &key, &sub.SessionID, &history, &sub.PaymentAttempts,
		&lastAttempt, &lastPayment, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.Plan = models.Plan(plan)
	sub.Status = models.SubscriptionStatus(status)
	sub.PaymentStatus = models.PaymentStatus(paymentStatus)
	sub.FailureReason = models.FailureReason(reason)
	sub.StartDate = sub.StartDate.UTC()
	sub.EndDate = sub.EndDate.UTC()
	sub.TrialEnd = timePtr(trialEnd)
	sub.IdempotencyKey = key.String
	sub.LastPaymentAttempt = timePtr(lastAttempt)
	sub.LastPaymentDate = timePtr(lastPayment)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	if len(history) > 0 {
		if err := json.Unmarshal(history, &sub.PaymentHistory); err != nil {
			return nil, fmt.Errorf("decode payment history: %w", err)
		}
	}
	return &sub, nil
}

func encodeHistory(h []models.PaymentRecord) ([]byte, error) {
	if h == nil {
		h = []models.PaymentRecord{}
	}
	return json.Marshal(h)
}

func subscriptionWriteError(op string, err error) error {
	switch {
	case isUniqueViolation(err, userUniqueConstraint):
		return fmt.Errorf("%s: %w", op, storage.ErrSubscriptionExists)
	case isUniqueViolation(err, idempotencyKeyIndex):
		return fmt.Errorf("%s: %w", op, storage.ErrIdempotencyKeyTaken)
	case isForeignKeyViolation(err):
		return fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CreateSubscription сохраняет новую подписку. У пользователя может быть только одна подписка.
func (s *Storage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.repository.CreateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	history, err := encodeHistory(sub.PaymentHistory)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.DB.ExecContext(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1, $18, $19)`,
		sub.ID, sub.UserID, string(sub.Plan), sub.Amount, sub.Currency, string(sub.Status), string(sub.PaymentStatus),
		string(sub.FailureReason), sub.StartDate.UTC(), sub.EndDate.UTC(), nullTime(sub.TrialEnd),
		nullString(sub.IdempotencyKey), sub.SessionID, history, sub.PaymentAttempts,
		nullTime(sub.LastPaymentAttempt), nullTime(sub.LastPaymentDate), sub.CreatedAt.UTC(), sub.UpdatedAt.UTC())
	if err != nil {
		return subscriptionWriteError(op, err)
	}
	sub.Version = 1
	return nil
}

// GetSubscriptionByUser возвращает подписку пользователя.
func (s *Storage) GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.repository.GetSubscriptionByUser"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSubscriptionNotFound)
	}

	sub, err := scanSubscription(s.DB.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// GetSubscriptionByIdempotencyKey ищет подписку по текущему ключу или по ключу
// любой записи журнала платежей. Совпадение по текущему ключу имеет приоритет.
func (s *Storage) GetSubscriptionByIdempotencyKey(ctx context.Context, key string) (*models.Subscription, error) {
	const op = "storage.repository.GetSubscriptionByIdempotencyKey"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	probe, err := json.Marshal([]map[string]string{{"idempotencyKey": key}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE idempotency_key = $1 OR payment_history @> $2::jsonb
		ORDER BY (idempotency_key IS NOT DISTINCT FROM $1) DESC
		LIMIT 1`, key, string(probe)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// UpdateSubscriptionIf перезаписывает изменяемые поля подписки, если статус,
// статус оплаты и версия строки совпадают с match. Иначе возвращает storage.ErrConditionFailed.
func (s *Storage) UpdateSubscriptionIf(ctx context.Context, match storage.Match, sub *models.Subscription) error {
	const op = "storage.repository.UpdateSubscriptionIf"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	history, err := encodeHistory(sub.PaymentHistory)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var version int64
	err = s.DB.QueryRowContext(ctx, `UPDATE subscriptions SET plan = $5, amount = $6, currency = $7, status = $8,
			payment_status = $9, failure_reason = $10, start_date = $11, end_date = $12, trial_end = $13,
			idempotency_key = $14, session_id = $15, payment_history = $16, payment_attempts = $17,
			last_payment_attempt = $18, last_payment_date = $19, updated_at = $20, version = version + 1
		WHERE id = $1 AND status = $2 AND payment_status = $3 AND version = $4
		RETURNING version`,
		match.ID, string(match.Status), string(match.PaymentStatus), match.Version,
		string(sub.Plan), sub.Amount, sub.Currency, string(sub.Status), string(sub.PaymentStatus),
		string(sub.FailureReason), sub.StartDate.UTC(), sub.EndDate.UTC(), nullTime(sub.TrialEnd),
		nullString(sub.IdempotencyKey), sub.SessionID, history, sub.PaymentAttempts,
		nullTime(sub.LastPaymentAttempt), nullTime(sub.LastPaymentDate), time.Now().UTC()).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, storage.ErrConditionFailed)
		}
		return subscriptionWriteError(op, err)
	}
	sub.Version = version
	return nil
}

// ListStalePending возвращает подписки, ожидающие оплаты, последняя попытка которых старше before.
func (s *Storage) ListStalePending(ctx context.Context, before time.Time) ([]*models.Subscription, error) {
	const op = "storage.repository.ListStalePending"
	return s.listSubscriptions(ctx, op, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE payment_status IN ('pending', 'requires_payment_method') AND last_payment_attempt < $1
		ORDER BY last_payment_attempt`, before.UTC())
}

// ListLapsedActive возвращает активные и отменённые подписки, срок которых истёк к моменту now.
func (s *Storage) ListLapsedActive(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	const op = "storage.repository.ListLapsedActive"
	return s.listSubscriptions(ctx, op, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN ('active', 'cancelled') AND end_date <= $1
		ORDER BY end_date`, now.UTC())
}

func (s *Storage) listSubscriptions(ctx context.Context, op, query string, args ...any) ([]*models.Subscription, error) {
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, sub)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
