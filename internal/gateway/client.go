// Package gateway composes the resilience layers every outbound call to a
// third-party service passes through: token-bucket admission, circuit
// breaker, cached upstream credential and retrying HTTP execution, with one
// automatic re-authentication cycle on an upstream 401.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dkurbatov/freightgate/internal/circuitbreaker"
	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/ratelimit"
	"github.com/dkurbatov/freightgate/internal/retry"
	"github.com/dkurbatov/freightgate/internal/telemetry"
)

// UpstreamError is returned by JSON when the downstream answered outside 2xx.
type UpstreamError struct {
	Service string
	Status  int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.Service, e.Status)
}

// Request describes one logical call to a downstream service.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
}

type Options struct {
	Name          string
	BaseURL       string
	MaxAttempts   int
	MaxWait       time.Duration // admission wait bound
	CredentialTTL time.Duration
	Timeout       time.Duration
}

// Gateway is the outbound client for one named downstream service.
type Gateway struct {
	name        string
	baseURL     string
	maxAttempts int
	maxWait     time.Duration
	credTTL     time.Duration

	httpClient *http.Client
	limiter    *ratelimit.TokenBucket
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Executor
	creds      *CredentialCache
	login      LoginFunc

	logger    logging.Logger
	telemetry telemetry.Telemetry
}

func New(
	opts Options,
	limiter *ratelimit.TokenBucket,
	breaker *circuitbreaker.CircuitBreaker,
	creds *CredentialCache,
	login LoginFunc,
	logger logging.Logger,
	tel telemetry.Telemetry,
) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = retry.DefaultMaxAttempts
	}
	credTTL := opts.CredentialTTL
	if credTTL <= 0 {
		credTTL = time.Hour
	}

	return &Gateway{
		name:        opts.Name,
		baseURL:     opts.BaseURL,
		maxAttempts: maxAttempts,
		maxWait:     opts.MaxWait,
		credTTL:     credTTL,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     limiter,
		breaker:     breaker,
		retrier:     retry.NewExecutor(),
		creds:       creds,
		login:       login,
		logger:      logger,
		telemetry:   tel,
	}
}

// HTTPClient exposes the underlying client so the login call can share
// connection pooling and timeouts.
func (g *Gateway) HTTPClient() *http.Client {
	return g.httpClient
}

// Do executes one logical request. Steps run strictly in order: limiter,
// breaker check, credentialed call through the retry executor, breaker
// record. On a 401 the cached credential is invalidated and exactly one extra
// raw attempt is made with a fresh credential, so a single caller never
// performs more than maxAttempts+1 raw HTTP calls.
func (g *Gateway) Do(ctx context.Context, req Request) (*http.Response, error) {
	if err := g.limiter.AwaitAcquire(ctx, g.maxWait); err != nil {
		g.telemetry.Breadcrumb("gateway", "admission rejected for "+g.name)
		return nil, err
	}

	if err := g.breaker.AllowRequest(ctx); err != nil {
		g.telemetry.Breadcrumb("gateway", "circuit rejected call to "+g.name)
		return nil, err
	}

	token, err := g.credential(ctx)
	if err != nil {
		// The call was never attempted; the breaker stays untouched.
		return nil, err
	}

	resp, err := g.retrier.Execute(ctx, g.attempt(ctx, req, token), g.maxAttempts)
	if err != nil {
		g.breaker.RecordFailure(ctx)
		g.telemetry.CaptureException(err)
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		g.logger.Info("upstream credential rejected, re-authenticating",
			logging.String("service", g.name),
		)
		drainBody(resp)

		if err := g.creds.Invalidate(ctx, g.name); err != nil {
			g.logger.Warn("failed to invalidate cached credential",
				logging.String("service", g.name),
				logging.Error(err),
			)
		}

		token, err = g.credential(ctx)
		if err != nil {
			return nil, err
		}

		resp, err = g.attempt(ctx, req, token)()
		if err != nil {
			g.breaker.RecordFailure(ctx)
			return nil, err
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		g.breaker.RecordSuccess(ctx)
	} else {
		g.breaker.RecordFailure(ctx)
	}

	return resp, nil
}

// JSON executes the request and decodes a 2xx JSON response into out.
// Non-2xx responses become *UpstreamError.
func (g *Gateway) JSON(ctx context.Context, req Request, out interface{}) error {
	resp, err := g.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &UpstreamError{Service: g.name, Status: resp.StatusCode}
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// credential returns the cached bearer token, logging in when absent.
func (g *Gateway) credential(ctx context.Context) (string, error) {
	token, err := g.creds.Get(ctx, g.name)
	if err != nil {
		g.logger.Warn("credential cache unavailable",
			logging.String("service", g.name),
			logging.Error(err),
		)
	}
	if token != "" {
		return token, nil
	}

	token, err = g.login(ctx)
	if err != nil {
		return "", fmt.Errorf("login to %s failed: %w", g.name, err)
	}

	if err := g.creds.Put(ctx, g.name, token, g.credTTL); err != nil {
		g.logger.Warn("failed to cache credential",
			logging.String("service", g.name),
			logging.Error(err),
		)
	}

	return token, nil
}

// attempt builds the raw HTTP call for one request with a fixed credential.
func (g *Gateway) attempt(ctx context.Context, req Request, token string) retry.AttemptFunc {
	return func() (*http.Response, error) {
		var body io.Reader
		if req.Body != nil {
			payload, err := json.Marshal(req.Body)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(payload)
		}

		target := g.baseURL + req.Path
		if len(req.Query) > 0 {
			target += "?" + req.Query.Encode()
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
		if err != nil {
			return nil, err
		}

		httpReq.Header.Set("Accept", "application/json")
		if req.Body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}

		return g.httpClient.Do(httpReq)
	}
}

func drainBody(resp *http.Response) {
	if resp.Body != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}
}
