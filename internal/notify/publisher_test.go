package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisherDeliversEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, "events-test")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client, "events-test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	pub.now = func() time.Time { return time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC) }
	pub.Publish(ctx, EventThresholdUpdated, map[string]any{"product_id": 7, "min_stock": "5"})

	select {
	case msg := <-sub.Channel():
		var evt Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
		require.Equal(t, EventThresholdUpdated, evt.Type)
		require.NotEmpty(t, evt.ID)
		require.True(t, evt.OccurredAt.Equal(time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC)))
		payload, ok := evt.Payload.(map[string]any)
		require.True(t, ok)
		require.EqualValues(t, 7, payload["product_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRedisPublisherSwallowsFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	pub := NewRedisPublisher(client, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NotPanics(t, func() {
		pub.Publish(context.Background(), EventLowStock, map[string]any{"product_id": 1})
	})
}

func TestNilPublisherIsSafe(t *testing.T) {
	var pub *RedisPublisher
	require.NotPanics(t, func() { pub.Publish(context.Background(), EventSlipConfirmed, nil) })
	Nop{}.Publish(context.Background(), EventSlipConfirmed, nil)
}
