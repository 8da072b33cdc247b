package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/t402-io/paymaster-relay/internal/cache"
)

// newTestCache points a cache.Client at an in-memory miniredis server via
// the same URL-parsing path NewClient uses in production.
func newTestCache(t *testing.T) *cache.Client {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := cache.NewClient("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisLimiterAllowsWithinWindow(t *testing.T) {
	c := newTestCache(t)
	l := NewRedisLimiter(c, 3, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, info, err := l.Allow(context.Background(), "sender-x")
		require.NoError(t, err)
		require.True(t, allowed)
		require.Equal(t, 3, info.Limit)
	}
}

func TestRedisLimiterRejectsOverCap(t *testing.T) {
	c := newTestCache(t)
	l := NewRedisLimiter(c, 2, time.Minute)

	for i := 0; i < 2; i++ {
		allowed, _, err := l.Allow(context.Background(), "sender-y")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, info, err := l.Allow(context.Background(), "sender-y")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 0, info.Remaining)
}

func TestRedisLimiterResetsAfterWindowExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer rc.Close()

	l := NewRedisLimiter(rc, 1, time.Second)

	allowed, _, err := l.Allow(context.Background(), "sender-z")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = l.Allow(context.Background(), "sender-z")
	require.NoError(t, err)
	require.False(t, allowed)

	mr.FastForward(2 * time.Second)

	allowed, _, err = l.Allow(context.Background(), "sender-z")
	require.NoError(t, err)
	require.True(t, allowed, "counter should reset once the window TTL expires")
}
