// Package ratelimit implements ports.RateLimiter with a Redis fixed-window
// counter: INCR the window's key, setting a TTL on first touch.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces rate-limit counters in the shared Redis keyspace.
const KeyPrefix = "orchestrator:ratelimit:"

// Limiter implements ports.RateLimiter.
type Limiter struct {
	client *redis.Client
}

func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow increments the counter for key's current window and reports whether
// the resulting count is within limit. The window is anchored to
// windowSeconds-sized buckets of wall-clock time so concurrent callers
// across processes share the same bucket without coordination.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, windowSeconds int) (bool, error) {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	bucket := time.Now().Unix() / int64(windowSeconds)
	redisKey := fmt.Sprintf("%s%s:%d", KeyPrefix, key, bucket)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		l.client.Expire(ctx, redisKey, time.Duration(windowSeconds)*time.Second)
	}

	return count <= int64(limit), nil
}
