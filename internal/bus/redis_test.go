package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	audience []uuid.UUID
	event    Event
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(_ context.Context, audience []uuid.UUID, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{audience: audience, event: event})
}

func deadClient(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func envelope(t *testing.T, node string, audience []uuid.UUID, payload string) string {
	t.Helper()
	data, err := json.Marshal(clusterEnvelope{
		Node:      node,
		Audience:  audience,
		Type:      EventNewMessage,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	return string(data)
}

func TestRelayDeliversForeignEnvelopes(t *testing.T) {
	local := &recorder{}
	relay := NewRedisRelay(local, deadClient(t), "node-a", "events")
	audience := []uuid.UUID{uuid.New(), uuid.New()}

	relay.relay(context.Background(), envelope(t, "node-b", audience, `{"text":"hi"}`))

	require.Len(t, local.events, 1)
	got := local.events[0]
	assert.Equal(t, audience, got.audience)
	assert.Equal(t, EventNewMessage, got.event.Type)
	raw, ok := got.event.Payload.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"text":"hi"}`, string(raw))
}

func TestRelaySkipsOwnAndMalformedEnvelopes(t *testing.T) {
	local := &recorder{}
	relay := NewRedisRelay(local, deadClient(t), "node-a", "events")

	relay.relay(context.Background(), envelope(t, "node-a", []uuid.UUID{uuid.New()}, `{}`))
	relay.relay(context.Background(), "not json")

	assert.Empty(t, local.events)
}

func TestPublishIsLocalEvenWhenRedisIsDown(t *testing.T) {
	local := &recorder{}
	relay := NewRedisRelay(local, deadClient(t), "node-a", "events")
	audience := []uuid.UUID{uuid.New()}

	relay.Publish(context.Background(), audience, Event{Type: EventTyping, Payload: map[string]bool{"typing": true}})

	require.Len(t, local.events, 1)
	assert.Equal(t, EventTyping, local.events[0].event.Type)
}
