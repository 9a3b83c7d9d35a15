package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	librabbitmq "github.com/magabrotheeeer/pricegate/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/pricegate/internal/models"
)

// Publisher публикует доменные события; ключ маршрутизации равен имени события.
// Канал AMQP не потокобезопасен, поэтому публикации сериализуются.
// Нулевой *Publisher допустим и ничего не публикует.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       librabbitmq.Channel
	closer   func() error
	exchange string
}

// NewPublisher создаёт публикатора поверх открытого соединения и канала.
func NewPublisher(conn *amqp.Connection, ch *amqp.Channel, exchange string) *Publisher {
	return &Publisher{conn: conn, ch: ch, closer: ch.Close, exchange: exchange}
}

// Publish отправляет событие в обменник.
func (p *Publisher) Publish(ctx context.Context, ev models.DomainEvent) error {
	const op = "rabbitmq.Publish"
	if p == nil || p.ch == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := librabbitmq.PublishMessage(p.ch, p.exchange, ev.Name, ev); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.closer != nil {
		err = p.closer()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
