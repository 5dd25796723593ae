package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a per-provider token bucket (spec.md §4.B: "Per-provider
// token bucket; every external call acquires a token"). It is independent
// of any provider's own documented per-minute quota (Polygon, FMP) - those
// are configured by choosing an appropriate ratePerMinute per provider, not
// by a separate mechanism.
//
// Grounded in the alphavantage client's own daily-request-budget counter
// (internal/clients/alphavantage/client.go's remaining/dailyLimit fields),
// generalized from a once-a-day reset to a continuously-refilling bucket.
type RateLimiter struct {
	mu           sync.Mutex
	tokens       float64
	max          float64
	refillPerSec float64
	last         time.Time
}

// NewRateLimiter creates a token bucket refilling at ratePerMinute tokens
// per minute, holding up to burst tokens at once.
func NewRateLimiter(ratePerMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		tokens:       float64(burst),
		max:          float64(burst),
		refillPerSec: float64(ratePerMinute) / 60.0,
		last:         time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled, then consumes one.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		r.tokens += now.Sub(r.last).Seconds() * r.refillPerSec
		if r.tokens > r.max {
			r.tokens = r.max
		}
		r.last = now

		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}

		var wait time.Duration
		if r.refillPerSec > 0 {
			wait = time.Duration((1 - r.tokens) / r.refillPerSec * float64(time.Second))
		} else {
			wait = 100 * time.Millisecond
		}
		r.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
