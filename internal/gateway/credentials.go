package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkurbatov/freightgate/internal/storage"
)

// CredentialCache stores the bearer token a downstream service issued to us
// so it is not re-acquired on every request. Tokens are invalidated
// explicitly when the service answers 401.
type CredentialCache struct {
	redis *storage.RedisClient
}

func NewCredentialCache(redis *storage.RedisClient) *CredentialCache {
	return &CredentialCache{redis: redis}
}

func credentialKey(service string) string {
	return "credential:" + service
}

// Get returns the cached token for the service, or "" when absent.
func (c *CredentialCache) Get(ctx context.Context, service string) (string, error) {
	token, err := c.redis.Get(ctx, credentialKey(service))
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return token, nil
}

func (c *CredentialCache) Put(ctx context.Context, service, token string, ttl time.Duration) error {
	return c.redis.Set(ctx, credentialKey(service), token, ttl)
}

func (c *CredentialCache) Invalidate(ctx context.Context, service string) error {
	return c.redis.Del(ctx, credentialKey(service))
}

// LoginFunc acquires a fresh upstream credential. Login is a plain HTTP call
// guarded by its own error handling, deliberately outside the limiter and the
// circuit breaker: a broken login must surface immediately instead of opening
// the breaker for an unrelated reason.
type LoginFunc func(ctx context.Context) (string, error)

// NewServiceLogin builds a LoginFunc that posts JSON credentials to the
// service's login endpoint and extracts the bearer token from the response.
func NewServiceLogin(client *http.Client, baseURL, path, login, password string) LoginFunc {
	return func(ctx context.Context) (string, error) {
		payload, err := json.Marshal(map[string]string{
			"login":    login,
			"password": password,
		})
		if err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("login request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("login rejected with status %d", resp.StatusCode)
		}

		var body struct {
			Token       string `json:"token"`
			AccessToken string `json:"access_token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("failed to decode login response: %w", err)
		}

		token := body.Token
		if token == "" {
			token = body.AccessToken
		}
		if token == "" {
			return "", fmt.Errorf("login response carried no token")
		}

		return token, nil
	}
}
