package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is an in-process, per-key token bucket limiter. It is the
// default backend: cheap, accurate, and good enough for a single gateway
// instance. For a fleet of gateway replicas sharing one cap, use
// RedisLimiter instead.
type TokenBucket struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	lastSeen map[string]time.Time
}

// NewTokenBucket builds a limiter allowing burst immediate requests and
// refilling at ratePerSecond tokens/sec thereafter, per key.
func NewTokenBucket(ratePerSecond float64, burst int) *TokenBucket {
	return &TokenBucket{
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rps:      rate.Limit(ratePerSecond),
		burst:    burst,
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string) (bool, Info, error) {
	t.mu.Lock()
	l, ok := t.buckets[key]
	if !ok {
		l = rate.NewLimiter(t.rps, t.burst)
		t.buckets[key] = l
	}
	t.lastSeen[key] = time.Now()
	t.mu.Unlock()

	now := time.Now()
	allowed := l.AllowN(now, 1)
	tokens := int(l.TokensAt(now))
	if tokens < 0 {
		tokens = 0
	}

	info := Info{
		Limit:     t.burst,
		Remaining: tokens,
		Reset:     now.Add(time.Duration(float64(time.Second) / float64(t.rps))),
	}
	return allowed, info, nil
}

// Sweep removes buckets untouched for longer than idle, bounding memory use
// for gateways that see a long tail of one-shot senders.
func (t *TokenBucket) Sweep(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			delete(t.buckets, key)
			delete(t.lastSeen, key)
		}
	}
}
