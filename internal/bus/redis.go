package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v9"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type clusterEnvelope struct {
	Node      string          `json:"node"`
	Audience  []uuid.UUID     `json:"audience"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"ts"`
}

// RedisRelay publishes locally and mirrors every event on a Redis channel so
// coordinators on other nodes can push to the connections they hold.
type RedisRelay struct {
	local   Publisher
	rdb     *redis.Client
	node    string
	channel string
	log     *zap.SugaredLogger
}

func NewRedisRelay(local Publisher, rdb *redis.Client, node, channel string) *RedisRelay {
	return &RedisRelay{
		local:   local,
		rdb:     rdb,
		node:    node,
		channel: channel,
		log:     zap.S().With("component", "redis-relay", "node", node),
	}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (r *RedisRelay) Publish(ctx context.Context, audience []uuid.UUID, event Event) {
	r.local.Publish(ctx, audience, event)

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		r.log.Errorw("marshal payload", "type", event.Type, "error", err)
		return
	}
	data, err := json.Marshal(clusterEnvelope{
		Node:      r.node,
		Audience:  audience,
		Type:      event.Type,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		r.log.Errorw("marshal envelope", "type", event.Type, "error", err)
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		r.log.Warnw("redis publish failed", "type", event.Type, "error", err)
	}
}

// Run relays events published by other nodes to local connections until ctx
// is cancelled.
func (r *RedisRelay) Run(ctx context.Context) {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	r.log.Infow("relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.relay(ctx, msg.Payload)
		}
	}
}

// relay hands an envelope from another node to the local publisher. Own
// envelopes were already delivered by Publish.
func (r *RedisRelay) relay(ctx context.Context, raw string) {
	var env clusterEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.log.Warnw("bad cluster envelope", "error", err)
		return
	}
	if env.Node == r.node {
		return
	}
	r.local.Publish(ctx, env.Audience, Event{Type: env.Type, Payload: env.Payload})
}

func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
