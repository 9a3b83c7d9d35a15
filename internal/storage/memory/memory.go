// Package memory реализует хранилище учётных записей и подписок в памяти процесса.
// Используется в тестах и при локальном запуске с storage.driver=memory.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/storage"
)

// Store хранилище в памяти. Все операции сериализуются одним мьютексом,
// поэтому UpdateAccount и UpdateSubscriptionIf атомарны.
type Store struct {
	mu            sync.Mutex
	accounts      map[string]*models.Account
	emails        map[string]string
	subscriptions map[string]*models.Subscription
	byUser        map[string]string
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		accounts:      make(map[string]*models.Account),
		emails:        make(map[string]string),
		subscriptions: make(map[string]*models.Subscription),
		byUser:        make(map[string]string),
	}
}

func checkCtx(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
		return nil
	}
}

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Store) Close() error { return nil }

// CreateAccount сохраняет новую учётную запись.
func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	const op = "storage.memory.CreateAccount"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	email := models.NormalizeEmail(a.Email)
	if _, ok := s.emails[email]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrEmailTaken)
	}
	c := a.Clone()
	c.Email = email
	c.Version = 1
	s.accounts[c.ID] = c
	s.emails[email] = c.ID
	a.Version = 1
	return nil
}

// GetAccountByID возвращает учётную запись по идентификатору.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	const op = "storage.memory.GetAccountByID"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}
	return a.Clone(), nil
}

// GetAccountByEmail возвращает учётную запись по нормализованному адресу.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	const op = "storage.memory.GetAccountByEmail"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emails[models.NormalizeEmail(email)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}
	return s.accounts[id].Clone(), nil
}

// UpdateAccount выполняет read-modify-write над учётной записью под блокировкой.
func (s *Store) UpdateAccount(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	const op = "storage.memory.UpdateAccount"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, storage.ErrNoChange) {
			return cur.Clone(), nil
		}
		return nil, err
	}
	next.ID = cur.ID
	next.Email = cur.Email
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.accounts[id] = next
	return next.Clone(), nil
}

// DeleteAccount удаляет учётную запись вместе с подпиской.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	const op = "storage.memory.DeleteAccount"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}
	delete(s.emails, a.Email)
	delete(s.accounts, id)
	if subID, ok := s.byUser[id]; ok {
		delete(s.subscriptions, subID)
		delete(s.byUser, id)
	}
	return nil
}

// ListTrialsEndingBetween возвращает пробные учётные записи без подписки,
// у которых пробный период заканчивается в полуинтервале [from, to).
func (s *Store) ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]*models.Account, error) {
	const op = "storage.memory.ListTrialsEndingBetween"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Account
	for _, a := range s.accounts {
		if !a.IsTrial || a.IsSubscribed || a.TrialEndsAt == nil {
			continue
		}
		if !a.TrialEndsAt.Before(from) && a.TrialEndsAt.Before(to) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrialEndsAt.Before(*out[j].TrialEndsAt) })
	return out, nil
}

// CreateSubscription сохраняет новую подписку.
func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.memory.CreateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[sub.UserID]; !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}
	if _, ok := s.byUser[sub.UserID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrSubscriptionExists)
	}
	if s.keyTakenLocked(sub.IdempotencyKey, sub.ID) {
		return fmt.Errorf("%s: %w", op, storage.ErrIdempotencyKeyTaken)
	}
	c := sub.Clone()
	c.Version = 1
	s.subscriptions[c.ID] = c
	s.byUser[c.UserID] = c.ID
	sub.Version = 1
	return nil
}

func (s *Store) keyTakenLocked(key, exceptID string) bool {
	if key == "" {
		return false
	}
	for id, sub := range s.subscriptions {
		if id != exceptID && sub.IdempotencyKey == key {
			return true
		}
	}
	return false
}

// GetSubscriptionByUser возвращает подписку пользователя.
func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.memory.GetSubscriptionByUser"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUser[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSubscriptionNotFound)
	}
	return s.subscriptions[id].Clone(), nil
}

// GetSubscriptionByIdempotencyKey ищет подписку по текущему ключу или по ключу из журнала платежей.
func (s *Store) GetSubscriptionByIdempotencyKey(ctx context.Context, key string) (*models.Subscription, error) {
	const op = "storage.memory.GetSubscriptionByIdempotencyKey"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		if sub.IdempotencyKey == key {
			return sub.Clone(), nil
		}
	}
	for _, sub := range s.subscriptions {
		if _, ok := sub.AttemptState(key); ok {
			return sub.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, storage.ErrSubscriptionNotFound)
}

// UpdateSubscriptionIf записывает sub, только если текущая запись удовлетворяет match.
func (s *Store) UpdateSubscriptionIf(ctx context.Context, match storage.Match, sub *models.Subscription) error {
	const op = "storage.memory.UpdateSubscriptionIf"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.subscriptions[match.ID]
	if !ok || !match.Matches(cur) {
		return fmt.Errorf("%s: %w", op, storage.ErrConditionFailed)
	}
	if s.keyTakenLocked(sub.IdempotencyKey, cur.ID) {
		return fmt.Errorf("%s: %w", op, storage.ErrIdempotencyKeyTaken)
	}
	next := sub.Clone()
	next.ID = cur.ID
	next.UserID = cur.UserID
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	s.subscriptions[cur.ID] = next
	sub.Version = next.Version
	return nil
}

// ListStalePending возвращает подписки, ожидающие оплаты с попыткой раньше before.
func (s *Store) ListStalePending(ctx context.Context, before time.Time) ([]*models.Subscription, error) {
	const op = "storage.memory.ListStalePending"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Subscription
	for _, sub := range s.subscriptions {
		if awaitingPayment(sub.PaymentStatus) && sub.LastPaymentAttempt != nil && sub.LastPaymentAttempt.Before(before) {
			out = append(out, sub.Clone())
		}
	}
	return out, nil
}

// ListLapsedActive возвращает действующие (active или cancelled) подписки с датой окончания не позже now.
func (s *Store) ListLapsedActive(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	const op = "storage.memory.ListLapsedActive"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Subscription
	for _, sub := range s.subscriptions {
		if lapsable(sub.Status) && !sub.EndDate.After(now) {
			out = append(out, sub.Clone())
		}
	}
	return out, nil
}

func awaitingPayment(st models.PaymentStatus) bool {
	return st == models.PaymentPending || st == models.PaymentRequiresPaymentMethod
}

func lapsable(st models.SubscriptionStatus) bool {
	return st == models.StatusActive || st == models.StatusCancelled
}
