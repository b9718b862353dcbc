// Package retry executes HTTP attempts with bounded retries and exponential
// backoff. It retries HTTP-semantic failures only; connection-level errors
// from the transport propagate immediately.
package retry

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"
)

const (
	// DefaultMaxAttempts is the total attempt budget, not a retry count.
	DefaultMaxAttempts = 4

	// DefaultBaseDelay is the backoff base, doubled per attempt.
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxJitter bounds the random addition to each backoff sleep.
	DefaultMaxJitter = 100 * time.Millisecond
)

// ExhaustedError is returned when every attempt yielded a retryable status.
type ExhaustedError struct {
	Attempts   int
	LastStatus int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts, last status %d", e.Attempts, e.LastStatus)
}

// AttemptFunc performs one raw HTTP call.
type AttemptFunc func() (*http.Response, error)

type Executor struct {
	BaseDelay time.Duration
	MaxJitter time.Duration
}

func NewExecutor() *Executor {
	return &Executor{
		BaseDelay: DefaultBaseDelay,
		MaxJitter: DefaultMaxJitter,
	}
}

// retryable statuses: throttling and transient upstream unavailability.
func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Execute runs attempt up to maxAttempts times. Any non-retryable response is
// returned to the caller as-is, including non-2xx statuses the caller must
// interpret (e.g. 401 for re-authentication). Transport errors are returned
// immediately without retrying.
func (e *Executor) Execute(ctx context.Context, attempt AttemptFunc, maxAttempts int) (*http.Response, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	lastStatus := 0

	for i := 0; i < maxAttempts; i++ {
		resp, err := attempt()
		if err != nil {
			return nil, err
		}

		if !retryable(resp.StatusCode) {
			return resp, nil
		}

		lastStatus = resp.StatusCode
		drain(resp)

		if i == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.backoff(i)):
		}
	}

	return nil, &ExhaustedError{Attempts: maxAttempts, LastStatus: lastStatus}
}

func (e *Executor) backoff(attempt int) time.Duration {
	base := e.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxJitter := e.MaxJitter
	if maxJitter <= 0 {
		maxJitter = DefaultMaxJitter
	}

	return base*(1<<attempt) + rand.N(maxJitter)
}

// drain releases the connection of a response we are about to discard.
func drain(resp *http.Response) {
	if resp.Body != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}
}
