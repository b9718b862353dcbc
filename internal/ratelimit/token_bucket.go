package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultMaxWait bounds how long AwaitAcquire blocks before giving up.
	DefaultMaxWait = 5 * time.Second

	pollInterval = 50 * time.Millisecond
)

// RateLimitError is returned when no token became available in time.
// Wait suggests how long the caller should back off before retrying.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.Wait.Round(time.Millisecond))
}

// TokenBucket is an in-process admission limiter for outbound calls to one
// downstream service. Capacity equals the configured requests per minute;
// tokens refill continuously at capacity/60 per second, so bursts up to the
// full capacity are allowed and steady-state throughput converges to the
// per-minute budget. The bucket is exclusive to this process: each instance
// gets its own admission budget, nothing is persisted.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	lastRefill time.Time

	now func() time.Time
}

func NewTokenBucket(requestsPerMinute int) (*TokenBucket, error) {
	if requestsPerMinute <= 0 {
		return nil, errors.New("token bucket capacity must be positive")
	}

	return &TokenBucket{
		capacity:   float64(requestsPerMinute),
		tokens:     float64(requestsPerMinute),
		lastRefill: time.Now(),
		now:        time.Now,
	}, nil
}

// TryAcquire consumes one token if available. It never blocks.
func (t *TokenBucket) TryAcquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refill()

	if t.tokens >= 1 {
		t.tokens -= 1
		return true
	}

	return false
}

// AwaitAcquire polls TryAcquire until a token is obtained or maxWait elapses.
// A non-positive maxWait falls back to DefaultMaxWait.
func (t *TokenBucket) AwaitAcquire(ctx context.Context, maxWait time.Duration) error {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	deadline := time.Now().Add(maxWait)

	for {
		if t.TryAcquire() {
			return nil
		}

		if time.Now().After(deadline) {
			return &RateLimitError{Wait: t.timeToNextToken()}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Tokens returns the current token count after refill.
func (t *TokenBucket) Tokens() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refill()
	return t.tokens
}

// refill credits tokens for the time elapsed since the last refill.
// Caller must hold the mutex.
func (t *TokenBucket) refill() {
	now := t.now()
	elapsed := now.Sub(t.lastRefill).Seconds()

	t.tokens += elapsed * t.capacity / 60
	if t.tokens > t.capacity {
		t.tokens = t.capacity
	}
	t.lastRefill = now
}

func (t *TokenBucket) timeToNextToken() time.Duration {
	return time.Duration(60 / t.capacity * float64(time.Second))
}
