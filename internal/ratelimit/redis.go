package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/t402-io/paymaster-relay/internal/cache"
)

// RedisLimiter implements a shared fixed-window rate limit across every
// gateway replica, using a Redis INCR+EXPIRE pair per key. It trades the
// token bucket's smooth refill for a cap that multiple processes can
// enforce together.
type RedisLimiter struct {
	cache    *cache.Client
	requests int // max requests per window
	window   time.Duration
	prefix   string
}

// NewRedisLimiter creates a new Redis-based rate limiter.
func NewRedisLimiter(c *cache.Client, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		cache:    c,
		requests: requests,
		window:   window,
		prefix:   "relay:ratelimit:",
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, Info, error) {
	redisKey := l.prefix + key

	count, err := l.cache.Incr(ctx, redisKey)
	if err != nil {
		return false, Info{}, fmt.Errorf("increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := l.cache.Expire(ctx, redisKey, l.window); err != nil {
			return false, Info{}, fmt.Errorf("set rate limit expiry: %w", err)
		}
	}

	ttl, err := l.cache.TTL(ctx, redisKey)
	if err != nil {
		ttl = l.window
	}

	info := Info{
		Limit:     l.requests,
		Remaining: maxInt(0, l.requests-int(count)),
		Reset:     time.Now().Add(ttl),
	}

	if int(count) > l.requests {
		return false, info, nil
	}
	return true, info, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
