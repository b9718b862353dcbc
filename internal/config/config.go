package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Redis     RedisConfig     `json:"redis"`
	Postgres  PostgresConfig  `json:"postgres"`
	Auth      AuthConfig      `json:"auth"`
	Session   SessionConfig   `json:"session"`
	Inbound   InboundConfig   `json:"inbound_rate_limit"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Services  []ServiceConfig `json:"services"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type PostgresConfig struct {
	DSN string `json:"-"`
}

type AuthConfig struct {
	// BotToken signs the WebApp identity payload on Telegram's side.
	// Loaded from TELEGRAM_BOT_TOKEN, never from the config file.
	BotToken      string `json:"-"`
	MaxAgeSeconds int    `json:"max_age_seconds"`
}

func (a AuthConfig) MaxAge() time.Duration {
	if a.MaxAgeSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.MaxAgeSeconds) * time.Second
}

type SessionConfig struct {
	// Secret signs session tokens. Loaded from SESSION_SECRET.
	Secret                string `json:"-"`
	TTLSeconds            int    `json:"ttl_seconds"`
	RefreshThresholdHours int    `json:"refresh_threshold_hours"`
	CookieSecure          bool   `json:"cookie_secure"`
}

func (s SessionConfig) TTL() time.Duration {
	if s.TTLSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.TTLSeconds) * time.Second
}

func (s SessionConfig) RefreshThreshold() time.Duration {
	if s.RefreshThresholdHours <= 0 {
		return 4 * time.Hour
	}
	return time.Duration(s.RefreshThresholdHours) * time.Hour
}

type InboundConfig struct {
	RequestsPerMinute int    `json:"requests_per_minute"`
	Algorithm         string `json:"algorithm"` // "fixed_window" or "sliding_window"
}

type TelemetryConfig struct {
	Enabled bool `json:"enabled"`
}

// ServiceConfig describes one downstream HTTP API called through the outbound gateway.
type ServiceConfig struct {
	Name                 string        `json:"name"`
	BaseURL              string        `json:"base_url"`
	LoginPath            string        `json:"login_path"`
	CredentialEnv        string        `json:"credential_env"` // env prefix, e.g. FREIGHT_API -> FREIGHT_API_LOGIN/_PASSWORD
	RequestsPerMinute    int           `json:"requests_per_minute"`
	MaxAttempts          int           `json:"max_attempts"`
	TimeoutSeconds       int           `json:"timeout_seconds"`
	CredentialTTLSeconds int           `json:"credential_ttl_seconds"`
	Breaker              BreakerConfig `json:"circuit_breaker"`
}

func (s ServiceConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s ServiceConfig) CredentialTTL() time.Duration {
	if s.CredentialTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(s.CredentialTTLSeconds) * time.Second
}

type BreakerConfig struct {
	FailureThreshold       int  `json:"failure_threshold"`
	RecoveryTimeoutSeconds int  `json:"recovery_timeout_seconds"`
	SuccessThreshold       int  `json:"success_threshold"`
	KillSwitch             bool `json:"kill_switch"`
}

func (b BreakerConfig) RecoveryTimeout() time.Duration {
	if b.RecoveryTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(b.RecoveryTimeoutSeconds) * time.Second
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	// Secrets always come from the environment
	config.Auth.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	config.Session.Secret = os.Getenv("SESSION_SECRET")
	config.Postgres.DSN = os.Getenv("POSTGRES_DSN")
	config.Redis.Password = os.Getenv("REDIS_PASSWORD")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Auth.BotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if c.Session.Secret == "" {
		return errors.New("SESSION_SECRET is required")
	}
	if c.Postgres.DSN == "" {
		return errors.New("POSTGRES_DSN is required")
	}

	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}
		if svc.BaseURL == "" {
			return fmt.Errorf("service %s: base_url is required", svc.Name)
		}
		if svc.RequestsPerMinute <= 0 {
			return fmt.Errorf("service %s: requests_per_minute must be positive", svc.Name)
		}
	}

	return nil
}

// Service returns the config for a named downstream service, or nil.
func (c *Config) Service(name string) *ServiceConfig {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return &c.Services[i]
		}
	}
	return nil
}
