package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stockdesk/internal/domain"
	"stockdesk/internal/querycache"
)

type invalidationMessage struct {
	Origin string           `json:"origin"`
	Tags   []querycache.Tag `json:"tags"`
}

// InvalidationRelay пересылает инвалидации кэша между экземплярами через шину.
type InvalidationRelay struct {
	bus    domain.EventBus
	origin string
	log    zerolog.Logger
}

// NewInvalidationRelay создаёт ретранслятор с уникальным идентификатором экземпляра.
func NewInvalidationRelay(bus domain.EventBus, logger zerolog.Logger) *InvalidationRelay {
	return &InvalidationRelay{bus: bus, origin: uuid.NewString(), log: logger}
}

// Origin возвращает идентификатор экземпляра.
func (r *InvalidationRelay) Origin() string {
	return r.origin
}

// NotifyInvalidation реализует querycache.Notifier.
func (r *InvalidationRelay) NotifyInvalidation(ctx context.Context, tags []querycache.Tag) error {
	raw, err := json.Marshal(invalidationMessage{Origin: r.origin, Tags: tags})
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	return r.bus.Publish(ctx, domain.TopicCacheInvalidation, raw)
}

// Listen применяет чужие инвалидации к локальному кэшу до отмены ctx.
func (r *InvalidationRelay) Listen(ctx context.Context, cache *querycache.Cache) error {
	return r.bus.Subscribe(ctx, domain.TopicCacheInvalidation, func(payload []byte) {
		var msg invalidationMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			r.log.Warn().Err(err).Msg("relay: bad invalidation payload")
			return
		}
		if msg.Origin == r.origin {
			return
		}
		cache.InvalidateTags(msg.Tags...)
	})
}

var _ querycache.Notifier = (*InvalidationRelay)(nil)
