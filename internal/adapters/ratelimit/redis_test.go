package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestAllowWithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "tool:user1", 3, 60)
		require.NoError(t, err)
		require.True(t, ok, "call %d should be allowed", i+1)
	}
}

func TestAllowRejectsOverLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "tool:user1", 2, 60)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := l.Allow(ctx, "tool:user1", 2, 60)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAllowIsolatesKeys(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "tool:user1", 1, 60)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Allow(ctx, "tool:user2", 1, 60)
	require.NoError(t, err)
	require.True(t, ok, "a different key must not share user1's budget")
}
