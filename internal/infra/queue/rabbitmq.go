package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"stockdesk/internal/domain"
	"stockdesk/internal/infra/metrics"
)

// RabbitBus реализует шину событий через fanout-обменники RabbitMQ.
// Каждый подписчик получает собственную эксклюзивную очередь.
type RabbitBus struct {
	conn *amqp.Connection
	mu   sync.Mutex
	ch   *amqp.Channel
}

// NewRabbitBus подключается к брокеру по AMQP URL.
func NewRabbitBus(amqpURL string) (*RabbitBus, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &RabbitBus{conn: conn, ch: ch}, nil
}

func declareExchange(ch *amqp.Channel, topic string) error {
	return ch.ExchangeDeclare(topic, amqp.ExchangeFanout, true, false, false, false, nil)
}

// Publish публикует событие в обменник topic.
func (b *RabbitBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	if err := declareExchange(b.ch, topic); err != nil {
		metrics.ObserveNetworkRequest("rabbitmq", "declare", topic, start, err)
		return fmt.Errorf("declare exchange: %w", err)
	}
	err := b.ch.PublishWithContext(ctx, topic, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", topic, start, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe читает события до отмены ctx.
func (b *RabbitBus) Subscribe(ctx context.Context, topic string, handle func(payload []byte)) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, topic); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", topic, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("rabbit bus: deliveries closed")
			}
			handle(d.Body)
		}
	}
}

// Close закрывает соединение.
func (b *RabbitBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.ch.Close()
	return b.conn.Close()
}

var _ domain.EventBus = (*RabbitBus)(nil)
