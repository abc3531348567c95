// Package cache holds the redis-backed idempotency store for chat
// submissions: replays of the same Idempotency-Key return the original
// receipt instead of recording the interaction twice.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "rooted:idem:"
	defaultTTL = 30 * time.Minute
)

// IdempotencyCache stores serialized chat responses keyed by the client's
// Idempotency-Key header.
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyCache(client *redis.Client, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &IdempotencyCache{client: client, ttl: ttl}
}

// Get returns the previously stored response for key, if one exists.
func (c *IdempotencyCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.client == nil || key == "" {
		return nil, false
	}
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set records the response for key. A failed write only costs the client
// its replay, so the error is not surfaced.
func (c *IdempotencyCache) Set(ctx context.Context, key string, value []byte) {
	if c == nil || c.client == nil || key == "" || len(value) == 0 {
		return
	}
	c.client.Set(ctx, keyPrefix+key, value, c.ttl)
}
