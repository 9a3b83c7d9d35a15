package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/storage"
)

const accountColumns = `id, name, email, phone, password_hash, role, is_trial, trial_ends_at,
	is_subscribed, subscription_plan, subscription_start_date, subscription_end_date,
	max_devices, version, created_at, updated_at`

const emailIndex = "idx_accounts_email"

func scanAccount(row scanner) (*models.Account, error) {
	var (
		a                     models.Account
		trialEnds, start, end sql.NullTime
		role, plan            string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Phone, &a.PasswordHash, &role, &a.IsTrial, &trialEnds,
		&a.IsSubscribed, &plan, &start, &end, &a.MaxDevices, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Role = models.Role(role)
	a.SubscriptionPlan = models.Plan(plan)
	a.TrialEndsAt = timePtr(trialEnds)
	a.SubscriptionStartDate = timePtr(start)
	a.SubscriptionEndDate = timePtr(end)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func loadDevices(ctx context.Context, q queryer, accountID string) ([]models.Device, error) {
	rows, err := q.QueryContext(ctx, `SELECT device_id, device_type, device_info, last_login_at
		FROM account_devices WHERE account_id = $1 ORDER BY seq`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	devices := []models.Device{}
	for rows.Next() {
		var d models.Device
		var deviceType string
		if err = rows.Scan(&d.DeviceID, &deviceType, &d.DeviceInfo, &d.LastLoginAt); err != nil {
			return nil, err
		}
		d.DeviceType = models.DeviceType(deviceType)
		d.LastLoginAt = d.LastLoginAt.UTC()
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func insertDevices(ctx context.Context, q queryer, accountID string, devices []models.Device) error {
	for _, d := range devices {
		if _, err := q.ExecContext(ctx, `INSERT INTO account_devices (account_id, device_id, device_type, device_info, last_login_at)
			VALUES ($1, $2, $3, $4, $5)`, accountID, d.DeviceID, string(d.DeviceType), d.DeviceInfo, d.LastLoginAt.UTC()); err != nil {
			return err
		}
	}
	return nil
}

// CreateAccount сохраняет новую учётную запись вместе с привязанными устройствами.
func (s *Storage) CreateAccount(ctx context.Context, a *models.Account) error {
	const op = "storage.repository.CreateAccount"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO accounts (id, name, email, phone, password_hash, role, is_trial,
			trial_ends_at, is_subscribed, subscription_plan, subscription_start_date, subscription_end_date,
			max_devices, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)`,
		a.ID, a.Name, models.NormalizeEmail(a.Email), a.Phone, a.PasswordHash, string(a.Role), a.IsTrial,
		nullTime(a.TrialEndsAt), a.IsSubscribed, string(a.SubscriptionPlan),
		nullTime(a.SubscriptionStartDate), nullTime(a.SubscriptionEndDate),
		a.MaxDevices, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err, emailIndex) {
			return fmt.Errorf("%s: %w", op, storage.ErrEmailTaken)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = insertDevices(ctx, tx, a.ID, a.Devices); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	a.Email = models.NormalizeEmail(a.Email)
	a.Version = 1
	return nil
}

// GetAccountByID возвращает учётную запись по идентификатору.
func (s *Storage) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	const op = "storage.repository.GetAccountByID"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}
	return s.getAccount(ctx, op, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// GetAccountByEmail возвращает учётную запись по адресу почты без учёта регистра и пробелов.
func (s *Storage) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	const op = "storage.repository.GetAccountByEmail"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	return s.getAccount(ctx, op, `SELECT `+accountColumns+` FROM accounts WHERE lower(btrim(email)) = $1`,
		models.NormalizeEmail(email))
}

func (s *Storage) getAccount(ctx context.Context, op, query string, arg any) (*models.Account, error) {
	a, err := scanAccount(s.DB.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if a.Devices, err = loadDevices(ctx, s.DB, a.ID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

// UpdateAccount блокирует строку учётной записи, применяет fn к её копии и
// сохраняет результат в той же транзакции. Параллельные вызовы для одной
// учётной записи выполняются строго по очереди.
func (s *Storage) UpdateAccount(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	const op = "storage.repository.UpdateAccount"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	cur, err := scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cur.Devices, err = loadDevices(ctx, tx, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	next := cur.Clone()
	if err = fn(next); err != nil {
		if errors.Is(err, storage.ErrNoChange) {
			return cur, nil
		}
		return nil, err
	}
	next.ID = cur.ID
	next.Email = cur.Email
	next.UpdatedAt = time.Now().UTC()

	err = tx.QueryRowContext(ctx, `UPDATE accounts SET name = $2, phone = $3, password_hash = $4, role = $5,
			is_trial = $6, trial_ends_at = $7, is_subscribed = $8, subscription_plan = $9,
			subscription_start_date = $10, subscription_end_date = $11, max_devices = $12,
			version = version + 1, updated_at = $13
		WHERE id = $1
		RETURNING version`,
		id, next.Name, next.Phone, next.PasswordHash, string(next.Role), next.IsTrial, nullTime(next.TrialEndsAt),
		next.IsSubscribed, string(next.SubscriptionPlan), nullTime(next.SubscriptionStartDate),
		nullTime(next.SubscriptionEndDate), next.MaxDevices, next.UpdatedAt).Scan(&next.Version)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !slices.Equal(cur.Devices, next.Devices) {
		if _, err = tx.ExecContext(ctx, `DELETE FROM account_devices WHERE account_id = $1`, id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err = insertDevices(ctx, tx, id, next.Devices); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return next, nil
}

// DeleteAccount удаляет учётную запись; устройства и подписка удаляются каскадно.
func (s *Storage) DeleteAccount(ctx context.Context, id string) error {
	const op = "storage.repository.DeleteAccount"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}
	return nil
}

// ListTrialsEndingBetween возвращает пробные учётные записи без подписки,
// пробный период которых заканчивается в [from, to).
func (s *Storage) ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]*models.Account, error) {
	const op = "storage.repository.ListTrialsEndingBetween"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE is_trial AND NOT is_subscribed AND trial_ends_at >= $1 AND trial_ends_at < $2
		ORDER BY trial_ends_at`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
