package auth

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitError carries the time at which the bucket refills.
type RateLimitError struct {
	ClientID string
	ResetAt  time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q, resets at %s", e.ClientID, e.ResetAt.Format(time.RFC3339))
}

// RateLimiter is a per-client token bucket: Max requests per Window,
// refilled continuously.
type RateLimiter struct {
	max    float64
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewRateLimiter creates a limiter allowing max requests per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:     float64(max),
		window:  window,
		buckets: make(map[string]*bucket),
	}
}

// CheckLimit consumes one token for the client if available. It returns
// whether the request is allowed, how many whole tokens remain, and
// when the bucket will next hold a full token.
func (r *RateLimiter) CheckLimit(clientID string) (allowed bool, remaining int, resetAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	b, ok := r.buckets[clientID]
	if !ok {
		b = &bucket{tokens: r.max, lastFill: now}
		r.buckets[clientID] = b
	}

	refillPerSec := r.max / r.window.Seconds()
	b.tokens += now.Sub(b.lastFill).Seconds() * refillPerSec
	if b.tokens > r.max {
		b.tokens = r.max
	}
	b.lastFill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), now
	}

	deficit := 1 - b.tokens
	wait := time.Duration(deficit / refillPerSec * float64(time.Second))
	return false, 0, now.Add(wait)
}

// Reset drops a client's bucket so the next check starts full.
func (r *RateLimiter) Reset(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, clientID)
}
