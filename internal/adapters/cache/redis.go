// Package cache implements ports.Cache with Redis, the backing store for
// C10's write-through conversation cache. Mirrors the sibling
// internal/adapters/ratelimit package's direct use of redis.Client rather
// than introducing a second Redis wrapper.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces cache entries in the shared Redis keyspace.
const KeyPrefix = "orchestrator:cache:"

// Cache implements ports.Cache.
type Cache struct {
	client *redis.Client
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get reports (nil, false, nil) on a cache miss rather than an error, so
// callers can fall through to the persistent store without inspecting err.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	ttl := time.Duration(ttlSeconds) * time.Second
	return c.client.Set(ctx, KeyPrefix+key, value, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, KeyPrefix+key).Err()
}
