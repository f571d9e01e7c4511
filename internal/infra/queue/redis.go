package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stockdesk/internal/domain"
	"stockdesk/internal/infra/metrics"
)

// RedisBus реализует шину событий на Redis pub/sub.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus создаёт шину поверх клиента.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish публикует событие в канал topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	start := time.Now()
	err := b.client.Publish(ctx, topic, payload).Err()
	metrics.ObserveNetworkRequest("redis", "publish", topic, start, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe читает события до отмены ctx.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, handle func(payload []byte)) error {
	ps := b.client.Subscribe(ctx, topic)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis bus: subscription closed")
			}
			handle([]byte(msg.Payload))
		}
	}
}

var _ domain.EventBus = (*RedisBus)(nil)
