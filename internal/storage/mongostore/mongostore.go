// Package mongostore хранит учётные записи и подписки в MongoDB.
//
// Каждая учётная запись и каждая подписка является отдельным документом.
// Обновления выполняются как ReplaceOne с условием по полю version, поэтому
// гонки между экземплярами сервиса разрешаются на стороне базы.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/magabrotheeeer/pricegate/internal/models"
	"github.com/magabrotheeeer/pricegate/internal/storage"
)

const (
	accountsCollection      = "accounts"
	subscriptionsCollection = "subscriptions"

	emailIndex          = "accounts_email"
	userIndex           = "subscriptions_user"
	idempotencyKeyIndex = "subscriptions_idempotency_key"

	maxUpdateRetries = 5
)

// Store хранилище на MongoDB.
type Store struct {
	client        *mongo.Client
	accounts      *mongo.Collection
	subscriptions *mongo.Collection
}

// New подключается к MongoDB, повторяя попытки до retries раз, и создаёт индексы.
func New(ctx context.Context, uri, database string, retries int, delay time.Duration) (*Store, error) {
	const op = "storage.mongostore.New"

	if retries <= 0 {
		retries = 1
	}
	var (
		client *mongo.Client
		err    error
	)
	for i := 0; i < retries; i++ {
		client, err = mongo.Connect(options.Client().ApplyURI(uri))
		if err == nil {
			if err = client.Ping(ctx, nil); err == nil {
				break
			}
			_ = client.Disconnect(ctx)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := client.Database(database)
	s := &Store{
		client:        client,
		accounts:      db.Collection(accountsCollection),
		subscriptions: db.Collection(subscriptionsCollection),
	}
	if err = s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetName(emailIndex).SetUnique(true)},
		{Keys: bson.D{{Key: "trialEndsAt", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.subscriptions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetName(userIndex).SetUnique(true)},
		{
			Keys: bson.D{{Key: "idempotencyKey", Value: 1}},
			Options: options.Index().SetName(idempotencyKeyIndex).SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "paymentHistory.idempotencyKey", Value: 1}}},
		{Keys: bson.D{{Key: "paymentStatus", Value: 1}, {Key: "lastPaymentAttempt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "endDate", Value: 1}}},
	})
	return err
}

// Ping проверяет соединение.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close отключает клиента.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func duplicateOn(err error, index string) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), index)
}

// CreateAccount сохраняет новую учётную запись.
func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	const op = "storage.mongostore.CreateAccount"

	doc := a.Clone()
	doc.Email = models.NormalizeEmail(a.Email)
	doc.Version = 1
	if _, err := s.accounts.InsertOne(ctx, doc); err != nil {
		if duplicateOn(err, emailIndex) {
			return fmt.Errorf("%s: %w", op, storage.ErrEmailTaken)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	a.Email = doc.Email
	a.Version = 1
	return nil
}

func (s *Store) findAccount(ctx context.Context, op string, filter bson.M) (*models.Account, error) {
	var a models.Account
	if err := s.accounts.FindOne(ctx, filter).Decode(&a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &a, nil
}

// GetAccountByID возвращает учётную запись по идентификатору.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	return s.findAccount(ctx, "storage.mongostore.GetAccountByID", bson.M{"_id": id})
}

// GetAccountByEmail возвращает учётную запись по нормализованному адресу.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.findAccount(ctx, "storage.mongostore.GetAccountByEmail", bson.M{"email": models.NormalizeEmail(email)})
}

// UpdateAccount применяет fn к свежей копии документа и сохраняет её,
// если версия не изменилась. При конкурентной записи чтение повторяется.
func (s *Store) UpdateAccount(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	const op = "storage.mongostore.UpdateAccount"

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		cur, err := s.findAccount(ctx, op, bson.M{"_id": id})
		if err != nil {
			return nil, err
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
		next.Version = cur.Version + 1
		next.UpdatedAt = time.Now().UTC()

		res, err := s.accounts.ReplaceOne(ctx, bson.M{"_id": id, "version": cur.Version}, next)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, storage.ErrConditionFailed)
}

// DeleteAccount удаляет учётную запись и её подписку.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	const op = "storage.mongostore.DeleteAccount"

	res, err := s.accounts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}
	if _, err = s.subscriptions.DeleteOne(ctx, bson.M{"userId": id}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListTrialsEndingBetween возвращает пробные учётные записи без подписки,
// у которых пробный период заканчивается в [from, to).
func (s *Store) ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]*models.Account, error) {
	const op = "storage.mongostore.ListTrialsEndingBetween"

	cur, err := s.accounts.Find(ctx, bson.M{
		"isTrial":      true,
		"isSubscribed": false,
		"trialEndsAt":  bson.M{"$gte": from, "$lt": to},
	}, options.Find().SetSort(bson.D{{Key: "trialEndsAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var out []*models.Account
	if err = cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func subscriptionWriteError(op string, err error) error {
	switch {
	case duplicateOn(err, userIndex):
		return fmt.Errorf("%s: %w", op, storage.ErrSubscriptionExists)
	case duplicateOn(err, idempotencyKeyIndex):
		return fmt.Errorf("%s: %w", op, storage.ErrIdempotencyKeyTaken)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CreateSubscription сохраняет новую подписку существующего пользователя.
func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.mongostore.CreateSubscription"

	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := s.accounts.CountDocuments(ctx, bson.M{"_id": sub.UserID})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}

	doc := sub.Clone()
	doc.Version = 1
	if _, err = s.subscriptions.InsertOne(ctx, doc); err != nil {
		return subscriptionWriteError(op, err)
	}
	sub.Version = 1
	return nil
}

func (s *Store) findSubscription(ctx context.Context, filter bson.M) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.subscriptions.FindOne(ctx, filter).Decode(&sub); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// GetSubscriptionByUser возвращает подписку пользователя.
func (s *Store) GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.mongostore.GetSubscriptionByUser"

	sub, err := s.findSubscription(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// GetSubscriptionByIdempotencyKey ищет сначала по текущему ключу, затем по журналу платежей.
func (s *Store) GetSubscriptionByIdempotencyKey(ctx context.Context, key string) (*models.Subscription, error) {
	const op = "storage.mongostore.GetSubscriptionByIdempotencyKey"

	sub, err := s.findSubscription(ctx, bson.M{"idempotencyKey": key})
	if errors.Is(err, storage.ErrSubscriptionNotFound) {
		sub, err = s.findSubscription(ctx, bson.M{"paymentHistory.idempotencyKey": key})
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// UpdateSubscriptionIf заменяет документ подписки, если он удовлетворяет match.
func (s *Store) UpdateSubscriptionIf(ctx context.Context, match storage.Match, sub *models.Subscription) error {
	const op = "storage.mongostore.UpdateSubscriptionIf"

	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	doc := sub.Clone()
	doc.ID = match.ID
	doc.Version = match.Version + 1
	doc.UpdatedAt = time.Now().UTC()

	res, err := s.subscriptions.ReplaceOne(ctx, bson.M{
		"_id":           match.ID,
		"status":        match.Status,
		"paymentStatus": match.PaymentStatus,
		"version":       match.Version,
	}, doc)
	if err != nil {
		return subscriptionWriteError(op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrConditionFailed)
	}
	sub.Version = doc.Version
	return nil
}

// ListStalePending возвращает подписки, ожидающие оплаты дольше, чем до before.
func (s *Store) ListStalePending(ctx context.Context, before time.Time) ([]*models.Subscription, error) {
	return s.listSubscriptions(ctx, "storage.mongostore.ListStalePending", bson.M{
		"paymentStatus":      bson.M{"$in": bson.A{models.PaymentPending, models.PaymentRequiresPaymentMethod}},
		"lastPaymentAttempt": bson.M{"$lt": before},
	})
}

// ListLapsedActive возвращает активные и отменённые подписки с истёкшим сроком.
func (s *Store) ListLapsedActive(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	return s.listSubscriptions(ctx, "storage.mongostore.ListLapsedActive", bson.M{
		"status":  bson.M{"$in": bson.A{models.StatusActive, models.StatusCancelled}},
		"endDate": bson.M{"$lte": now},
	})
}

func (s *Store) listSubscriptions(ctx context.Context, op string, filter bson.M) ([]*models.Subscription, error) {
	cur, err := s.subscriptions.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var out []*models.Subscription
	if err = cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
