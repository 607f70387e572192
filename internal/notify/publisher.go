// Package notify publishes fire-and-forget stock events for real-time consumers.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event types emitted by the stock engine.
const (
	EventThresholdUpdated = "inventory.threshold_updated"
	EventSlipConfirmed    = "inventory.slip_confirmed"
	EventLowStock         = "inventory.low_stock"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "stockledger:events"

// Event is the envelope written to the channel.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Publisher emits events. Implementations never surface delivery failures.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any)
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, any) {}

// RedisPublisher publishes JSON envelopes over Redis pub/sub.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
	now     func() time.Time
}

// NewRedisPublisher builds a publisher for channel.
func NewRedisPublisher(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger, now: time.Now}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, eventType string, payload any) {
	if p == nil || p.client == nil {
		return
	}
	evt := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: p.now().UTC(),
		Payload:    payload,
	}
	body, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("notify: encode event", slog.String("type", eventType), slog.Any("error", err))
		return
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		p.logger.Warn("notify: publish event", slog.String("type", eventType), slog.Any("error", err))
	}
}
