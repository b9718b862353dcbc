package ratelimit

import (
	"time"

	"github.com/dkurbatov/freightgate/internal/storage"
)

func NewLimiter(store *storage.RedisClient, algorithm string, limit int, window time.Duration) Limiter {
	switch algorithm {
	case "sliding_window":
		return NewSlidingWindow(store, limit, window)
	case "fixed_window":
		return NewFixedWindow(store, limit, window)
	default:
		return NewFixedWindow(store, limit, window)
	}
}
