package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllowsBurstThenThrottles(t *testing.T) {
	tb := NewTokenBucket(1, 3)

	for i := 0; i < 3; i++ {
		allowed, info, err := tb.Allow(context.Background(), "sender-a")
		require.NoError(t, err)
		require.True(t, allowed, "burst request %d should be allowed", i)
		require.Equal(t, 3, info.Limit)
	}

	allowed, _, err := tb.Allow(context.Background(), "sender-a")
	require.NoError(t, err)
	require.False(t, allowed, "request beyond burst capacity should be rejected")
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	tb := NewTokenBucket(1000, 1)

	allowed, _, err := tb.Allow(context.Background(), "sender-b")
	require.NoError(t, err)
	require.True(t, allowed)

	time.Sleep(5 * time.Millisecond)

	allowed, _, err = tb.Allow(context.Background(), "sender-b")
	require.NoError(t, err)
	require.True(t, allowed, "bucket should have refilled at 1000 tokens/sec after 5ms")
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	tb := NewTokenBucket(1, 1)

	allowed1, _, err := tb.Allow(context.Background(), "sender-c")
	require.NoError(t, err)
	require.True(t, allowed1)

	allowed2, _, err := tb.Allow(context.Background(), "sender-d")
	require.NoError(t, err)
	require.True(t, allowed2, "a different key must have its own bucket")
}

func TestTokenBucketSweepRemovesIdleKeys(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	_, _, err := tb.Allow(context.Background(), "sender-e")
	require.NoError(t, err)

	require.Len(t, tb.buckets, 1)
	tb.Sweep(-time.Second) // every bucket is "older" than a negative idle window
	require.Len(t, tb.buckets, 0)
}
