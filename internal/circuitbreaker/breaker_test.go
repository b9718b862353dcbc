package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/storage"
)

func newTestBreaker(t *testing.T, cfg Config) (*CircuitBreaker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := storage.NewRedisFromClient(client)

	return New("freight-api", cfg, store, logging.NewNop()), mr
}

func TestBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{})
	ctx := context.Background()

	assert.Equal(t, StateClosed, cb.State(ctx))
	assert.NoError(t, cb.AllowRequest(ctx))
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 3})
	ctx := context.Background()

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	assert.Equal(t, StateClosed, cb.State(ctx))
	assert.NoError(t, cb.AllowRequest(ctx))

	cb.RecordFailure(ctx)
	assert.Equal(t, StateOpen, cb.State(ctx))

	err := cb.AllowRequest(ctx)
	require.Error(t, err)

	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "freight-api", openErr.Service)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 3})
	ctx := context.Background()

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	cb.RecordSuccess(ctx)

	// The counter restarted, so two more failures stay under the threshold
	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	assert.Equal(t, StateClosed, cb.State(ctx))

	cb.RecordFailure(ctx)
	assert.Equal(t, StateOpen, cb.State(ctx))
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: 60 * time.Second})
	ctx := context.Background()

	current := time.Now()
	cb.now = func() time.Time { return current }

	cb.RecordFailure(ctx)
	require.Equal(t, StateOpen, cb.State(ctx))
	require.Error(t, cb.AllowRequest(ctx))

	// Redis stores the failure time at second precision; move well past the window
	current = current.Add(61 * time.Second)

	assert.NoError(t, cb.AllowRequest(ctx))
	assert.Equal(t, StateHalfOpen, cb.State(ctx))
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Second, SuccessThreshold: 2})
	ctx := context.Background()

	current := time.Now()
	cb.now = func() time.Time { return current }

	cb.RecordFailure(ctx)
	current = current.Add(2 * time.Second)
	require.NoError(t, cb.AllowRequest(ctx))
	require.Equal(t, StateHalfOpen, cb.State(ctx))

	cb.RecordSuccess(ctx)
	assert.Equal(t, StateHalfOpen, cb.State(ctx))

	cb.RecordSuccess(ctx)
	assert.Equal(t, StateClosed, cb.State(ctx))
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Second})
	ctx := context.Background()

	current := time.Now()
	cb.now = func() time.Time { return current }

	cb.RecordFailure(ctx)
	current = current.Add(2 * time.Second)
	require.NoError(t, cb.AllowRequest(ctx))
	require.Equal(t, StateHalfOpen, cb.State(ctx))

	cb.RecordFailure(ctx)
	assert.Equal(t, StateOpen, cb.State(ctx))
	assert.Error(t, cb.AllowRequest(ctx))
}

func TestBreaker_FailsOpenWhenStoreUnavailable(t *testing.T) {
	cb, mr := newTestBreaker(t, Config{FailureThreshold: 1})
	ctx := context.Background()

	cb.RecordFailure(ctx)
	require.Equal(t, StateOpen, cb.State(ctx))

	// Losing the store must never block traffic
	mr.Close()

	assert.NoError(t, cb.AllowRequest(ctx))
	assert.Equal(t, StateClosed, cb.State(ctx))
}

func TestBreaker_KillSwitchNeverOpens(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 2, KillSwitch: true})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		cb.RecordFailure(ctx)
	}

	assert.Equal(t, StateClosed, cb.State(ctx))
	assert.NoError(t, cb.AllowRequest(ctx))
}

func TestBreaker_SuccessOnCleanClosedStateIsNoop(t *testing.T) {
	cb, mr := newTestBreaker(t, Config{})
	ctx := context.Background()

	cb.RecordSuccess(ctx)

	// No record should have been written for a clean closed breaker
	assert.False(t, mr.Exists("circuit_breaker:freight-api:state"))
}

func TestBreaker_StateSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := storage.NewRedisFromClient(client)

	first := New("payment-api", Config{FailureThreshold: 1}, store, logging.NewNop())
	second := New("payment-api", Config{FailureThreshold: 1}, store, logging.NewNop())

	ctx := context.Background()
	first.RecordFailure(ctx)

	assert.Equal(t, StateOpen, second.State(ctx))
	assert.Error(t, second.AllowRequest(ctx))
}

func TestBreaker_ResetClearsState(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 1})
	ctx := context.Background()

	cb.RecordFailure(ctx)
	require.Equal(t, StateOpen, cb.State(ctx))

	cb.Reset(ctx)
	assert.Equal(t, StateClosed, cb.State(ctx))
	assert.NoError(t, cb.AllowRequest(ctx))
}
