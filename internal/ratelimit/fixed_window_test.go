package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkurbatov/freightgate/internal/storage"
)

func newTestStore(t *testing.T) *storage.RedisClient {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return storage.NewRedisFromClient(client)
}

func TestFixedWindow_AllowsUpToLimit(t *testing.T) {
	limiter := NewFixedWindow(newTestStore(t), 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "client-1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i)
	}

	allowed, err := limiter.Allow(ctx, "client-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestFixedWindow_KeysAreIndependent(t *testing.T) {
	limiter := NewFixedWindow(newTestStore(t), 1, time.Minute)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "client-1")
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "client-2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestFixedWindow_Remaining(t *testing.T) {
	limiter := NewFixedWindow(newTestStore(t), 5, time.Minute)
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	_, err = limiter.Allow(ctx, "client-1")
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "client-1")
	require.NoError(t, err)

	remaining, err = limiter.Remaining(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestSlidingWindow_AllowsUpToLimit(t *testing.T) {
	limiter := NewSlidingWindow(newTestStore(t), 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "client-1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i)
	}

	allowed, err := limiter.Allow(ctx, "client-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestNewLimiter_SelectsAlgorithm(t *testing.T) {
	store := newTestStore(t)

	assert.IsType(t, &SlidingWindowLimiter{}, NewLimiter(store, "sliding_window", 10, time.Minute))
	assert.IsType(t, &FixedWindowLimiter{}, NewLimiter(store, "fixed_window", 10, time.Minute))
	assert.IsType(t, &FixedWindowLimiter{}, NewLimiter(store, "", 10, time.Minute))
}
