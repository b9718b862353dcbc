package ratelimit

import (
	"context"
	"time"
)

// Limiter is the shared-store limiter applied to inbound traffic. Keys are
// per endpoint and client; state lives in redis so all instances share one
// budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)

	Remaining(ctx context.Context, key string) (int, error)

	Limit() int

	Window() time.Duration

	Reset(ctx context.Context, key string) (time.Time, error)
}
