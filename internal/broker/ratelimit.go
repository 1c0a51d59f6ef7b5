// ratelimit.go implements token-bucket rate limiting for the broker API.
//
// The broker enforces per-category limits measured over short windows. The
// buckets here refill continuously rather than in bursts so sustained 1 Hz
// polling never brushes the hard limits.
//
// Three buckets are maintained:
//   - Order:     trade submissions
//   - Portfolio: balance/positions/fills/orders/settlements reads
//   - Market:    event and market reads
package broker

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by broker API endpoint category.
// Each call must Wait() on the matching bucket before the HTTP request.
type RateLimiter struct {
	Order     *TokenBucket // POST /portfolio/orders
	Portfolio *TokenBucket // GET /portfolio/*
	Market    *TokenBucket // GET /events/*, /markets/*
}

// NewRateLimiter creates rate limiters tuned to the broker's published limits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:     NewTokenBucket(20, 10),
		Portfolio: NewTokenBucket(100, 10),
		Market:    NewTokenBucket(100, 10),
	}
}
