// Package redisstream implements relay.EventPublisher over Redis Streams,
// the broadcast transport for outbox category "event". Client construction
// follows join-service/internal/infrastructure/redis/redis.go's
// redis.NewClient wiring; XAdd replaces the teacher's GET/SET/INCR calls
// since events are an append-only log here, not cached state.
package redisstream

import (
	"context"
	"fmt"

	"github.com/baechuer/reliable-command-engine/internal/model"
	"github.com/redis/go-redis/v9"
)

// Publisher appends events onto a Redis Stream keyed by topic.
type Publisher struct {
	client *redis.Client
	maxLen int64
}

// New constructs a Publisher against the given Redis address. maxLen bounds
// each stream with XAdd's approximate trim (MAXLEN ~); 0 disables trimming.
func New(addr, password string, db int, maxLen int64) *Publisher {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Publisher{client: client, maxLen: maxLen}
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Publish appends value as a stream entry under topic. key is carried as
// the "key" field so ordering-sensitive consumers can still partition by
// it client-side; Redis Streams has no native per-key ordering/partitioning.
func (p *Publisher) Publish(ctx context.Context, topic, key string, value []byte, headers model.Headers) error {
	values := map[string]any{
		"key":     key,
		"payload": value,
	}
	for k, v := range headers {
		values["hdr_"+k] = v
	}

	args := &redis.XAddArgs{
		Stream: topic,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redisstream: xadd to %q: %w", topic, err)
	}
	return nil
}
