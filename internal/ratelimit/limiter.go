// Package ratelimit enforces the per-sender token-bucket rate caps of
// spec §4.5.
package ratelimit

import (
	"context"
	"time"
)

// Info describes the limiter's view of one key after a decision.
type Info struct {
	Limit     int       // bucket capacity
	Remaining int       // tokens left after this request
	Reset     time.Time // when the key next gains capacity: next token (TokenBucket) or window expiry (RedisLimiter)
}

// Limiter is the interface for rate limiting.
type Limiter interface {
	// Allow checks if a request is allowed for the given key.
	Allow(ctx context.Context, key string) (bool, Info, error)
}
