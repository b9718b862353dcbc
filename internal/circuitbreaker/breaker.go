package circuitbreaker

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/storage"
)

// CircuitOpenError is returned when the breaker rejects a call.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, recovery in %s", e.Service, e.RetryAfter.Round(time.Second))
}

type Config struct {
	FailureThreshold int           // Default: 5
	RecoveryTimeout  time.Duration // Default: 60 seconds
	SuccessThreshold int           // Default: 2

	// KillSwitch raises the thresholds to effectively-infinite values so the
	// breaker never opens while keeping the single code path.
	KillSwitch bool
}

const recordTTL = 24 * time.Hour

// CircuitBreaker guards one named downstream service. Its record lives in the
// shared cache so all process instances observe the same state; concurrent
// writers are last-write-wins. A missing record or a cache failure degrades
// to closed: the breaker never blocks traffic because its own storage failed.
type CircuitBreaker struct {
	service string
	cfg     Config
	redis   *storage.RedisClient
	logger  logging.Logger

	now func() time.Time
}

type record struct {
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

func New(service string, cfg Config, redis *storage.RedisClient, logger logging.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}

	return &CircuitBreaker{
		service: service,
		cfg:     cfg,
		redis:   redis,
		logger:  logger,
		now:     time.Now,
	}
}

// AllowRequest checks the breaker before a call is attempted. It returns nil
// when the call may proceed and *CircuitOpenError when it must be rejected.
// An open breaker whose recovery timeout elapsed transitions to half-open and
// lets exactly this call through as the trial.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context) error {
	rec := cb.load(ctx)

	if rec.state != StateOpen {
		return nil
	}

	remaining := cb.cfg.RecoveryTimeout - cb.now().Sub(rec.lastFailure)
	if remaining > 0 {
		return &CircuitOpenError{Service: cb.service, RetryAfter: remaining}
	}

	rec.state = StateHalfOpen
	rec.successes = 0
	cb.store(ctx, rec)

	cb.logger.Info("circuit breaker half-open",
		logging.String("service", cb.service),
	)

	return nil
}

// RecordSuccess is called after a guarded call completed successfully.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context) {
	rec := cb.load(ctx)

	switch rec.state {
	case StateHalfOpen:
		rec.successes++
		if rec.successes >= cb.successThreshold() {
			rec.state = StateClosed
			rec.failures = 0
			rec.successes = 0
			cb.logger.Info("circuit breaker closed",
				logging.String("service", cb.service),
			)
		}
	case StateClosed:
		if rec.failures == 0 {
			// Nothing to change; keep the stored record untouched
			return
		}
		rec.failures = 0
	default:
		return
	}

	cb.store(ctx, rec)
}

// RecordFailure is called after a guarded call failed.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context) {
	rec := cb.load(ctx)

	rec.failures++
	rec.lastFailure = cb.now()

	switch {
	case rec.state == StateHalfOpen:
		// Any failure during the trial re-opens the circuit
		rec.state = StateOpen
		rec.successes = 0
	case rec.state == StateClosed && rec.failures >= cb.failureThreshold():
		rec.state = StateOpen
		rec.successes = 0
	}

	if rec.state == StateOpen {
		cb.logger.Warn("circuit breaker open",
			logging.String("service", cb.service),
			logging.Int("failures", rec.failures),
		)
	}

	cb.store(ctx, rec)
}

// State returns the currently stored state.
func (cb *CircuitBreaker) State(ctx context.Context) State {
	return cb.load(ctx).state
}

// Reset overwrites the record with a clean closed state.
func (cb *CircuitBreaker) Reset(ctx context.Context) {
	cb.store(ctx, record{state: StateClosed})
}

func (cb *CircuitBreaker) failureThreshold() int {
	if cb.cfg.KillSwitch {
		return math.MaxInt32
	}
	return cb.cfg.FailureThreshold
}

func (cb *CircuitBreaker) successThreshold() int {
	if cb.cfg.KillSwitch {
		return 1
	}
	return cb.cfg.SuccessThreshold
}

func (cb *CircuitBreaker) key(field string) string {
	return fmt.Sprintf("circuit_breaker:%s:%s", cb.service, field)
}

// load reads the shared record. Any storage failure or absent key degrades to
// a closed record.
func (cb *CircuitBreaker) load(ctx context.Context) record {
	values, err := cb.redis.MGet(ctx,
		cb.key("state"),
		cb.key("failure_count"),
		cb.key("success_count"),
		cb.key("last_failure_time"),
	)
	if err != nil {
		cb.logger.Warn("circuit breaker state unavailable, failing open",
			logging.String("service", cb.service),
			logging.Error(err),
		)
		return record{state: StateClosed}
	}

	rec := record{state: StateClosed}

	if s, ok := values[0].(string); ok {
		rec.state = ParseState(s)
	}
	if s, ok := values[1].(string); ok {
		rec.failures, _ = strconv.Atoi(s)
	}
	if s, ok := values[2].(string); ok {
		rec.successes, _ = strconv.Atoi(s)
	}
	if s, ok := values[3].(string); ok {
		if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
			rec.lastFailure = time.Unix(unix, 0)
		}
	}

	return rec
}

// store writes the record back. Last write wins across instances; write
// failures are logged and swallowed so the request pipeline never fails on
// breaker bookkeeping.
func (cb *CircuitBreaker) store(ctx context.Context, rec record) {
	pipe := cb.redis.Pipeline()
	pipe.Set(ctx, cb.key("state"), rec.state.String(), recordTTL)
	pipe.Set(ctx, cb.key("failure_count"), strconv.Itoa(rec.failures), recordTTL)
	pipe.Set(ctx, cb.key("success_count"), strconv.Itoa(rec.successes), recordTTL)
	pipe.Set(ctx, cb.key("last_failure_time"), strconv.FormatInt(rec.lastFailure.Unix(), 10), recordTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		cb.logger.Warn("failed to persist circuit breaker state",
			logging.String("service", cb.service),
			logging.Error(err),
		)
	}
}
