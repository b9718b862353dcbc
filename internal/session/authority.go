// Package session issues and validates the signed, revocable session
// credential used by the WebApp client.
//
// The signed token alone cannot be revoked before its stated expiry, so every
// token is bound to a server-side session pointer in the shared cache. The
// pointer is the single source of truth for validity: logout and forced
// revocation delete or overwrite it, and each successful validation rewrites
// it with a fresh TTL (sliding window). The postgres session rows are audit
// trail only.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/models"
	"github.com/dkurbatov/freightgate/internal/storage"
)

// Failure reasons carried by SessionInvalidError.
const (
	ReasonExpired = "expired"
	ReasonInvalid = "invalid"
	ReasonRevoked = "revoked"
)

// SessionInvalidError means the client must re-authenticate.
type SessionInvalidError struct {
	Reason string
}

func (e *SessionInvalidError) Error() string {
	return "session invalid: " + e.Reason
}

// ErrTTLTooShort rejects session lifetimes below one minute.
var ErrTTLTooShort = errors.New("session ttl must be at least 60 seconds")

const (
	// DefaultTTL is the session pointer lifetime when no TTL is configured.
	DefaultTTL = 24 * time.Hour

	// DefaultRefreshThreshold is the remaining token lifetime below which a
	// replacement token is minted on validation.
	DefaultRefreshThreshold = 4 * time.Hour
)

// Subject is the authenticated principal resolved from a valid token.
type Subject struct {
	UserID    int64
	SessionID uuid.UUID
	ExpiresAt time.Time
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	SessionID uuid.UUID
	UserID    int64
	ExpiresAt time.Time
}

// Store persists the audit-trail session rows.
type Store interface {
	Create(ctx context.Context, session *models.ServerSession) error
	RevokeAllForUser(ctx context.Context, userID int64, at time.Time) error
	Revoke(ctx context.Context, sessionID uuid.UUID, at time.Time) error
}

type tokenClaims struct {
	UserID    int64  `json:"user_id"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Authority creates, validates and revokes sessions.
type Authority struct {
	secret           []byte
	redis            *storage.RedisClient
	store            Store
	defaultTTL       time.Duration
	refreshThreshold time.Duration
	logger           logging.Logger

	now func() time.Time
}

type Config struct {
	Secret           string
	TTL              time.Duration
	RefreshThreshold time.Duration
}

func NewAuthority(cfg Config, redis *storage.RedisClient, store Store, logger logging.Logger) *Authority {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	refresh := cfg.RefreshThreshold
	if refresh <= 0 {
		refresh = DefaultRefreshThreshold
	}

	return &Authority{
		secret:           []byte(cfg.Secret),
		redis:            redis,
		store:            store,
		defaultTTL:       ttl,
		refreshThreshold: refresh,
		logger:           logger,
		now:              time.Now,
	}
}

func pointerKey(userID int64) string {
	return fmt.Sprintf("session_pointer:%d", userID)
}

// Create opens a new session for the user. Prior sessions are revoked first:
// the pointer is overwritten (last write wins across concurrent logins) and
// earlier audit rows are marked revoked before the new row is inserted.
func (a *Authority) Create(ctx context.Context, userID int64, ttl time.Duration, ip, userAgent string) (*Session, error) {
	if ttl <= 0 {
		ttl = a.defaultTTL
	}
	if ttl < time.Minute {
		return nil, ErrTTLTooShort
	}

	sessionID := uuid.New()
	now := a.now()
	expiresAt := now.Add(ttl)

	// The pointer write decides validity; if it fails there is no session.
	if err := a.redis.Set(ctx, pointerKey(userID), sessionID.String(), ttl); err != nil {
		return nil, fmt.Errorf("failed to write session pointer: %w", err)
	}

	// Audit rows are best effort and never block a login. Two concurrent
	// logins can transiently leave two non-revoked rows; the pointer above
	// already resolved which session actually wins.
	if err := a.store.RevokeAllForUser(ctx, userID, now); err != nil {
		a.logger.Warn("failed to revoke prior session rows",
			logging.Int64("user_id", userID),
			logging.Error(err),
		)
	}
	if err := a.store.Create(ctx, &models.ServerSession{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		IP:        ip,
		UserAgent: userAgent,
	}); err != nil {
		a.logger.Warn("failed to insert session row",
			logging.Int64("user_id", userID),
			logging.Error(err),
		)
	}

	token, err := a.mint(userID, sessionID, now, expiresAt)
	if err != nil {
		return nil, err
	}

	return &Session{
		Token:     token,
		SessionID: sessionID,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate checks the token signature and expiry, matches it against the
// current session pointer and slides the pointer TTL forward. When the token
// itself is close to expiry a replacement token is returned alongside the
// subject; handing it back to the client is the only refresh mechanism.
func (a *Authority) Validate(ctx context.Context, tokenString string) (*Subject, string, error) {
	claims := &tokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, "", &SessionInvalidError{Reason: ReasonExpired}
		}
		return nil, "", &SessionInvalidError{Reason: ReasonInvalid}
	}
	if !token.Valid || claims.UserID == 0 || claims.SessionID == "" {
		return nil, "", &SessionInvalidError{Reason: ReasonInvalid}
	}

	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, "", &SessionInvalidError{Reason: ReasonInvalid}
	}

	current, err := a.redis.Get(ctx, pointerKey(claims.UserID))
	if err != nil {
		if err != redis.Nil {
			// Cache unavailability degrades to "no valid session".
			a.logger.Warn("session pointer lookup failed",
				logging.Int64("user_id", claims.UserID),
				logging.Error(err),
			)
		}
		return nil, "", &SessionInvalidError{Reason: ReasonRevoked}
	}
	if current != claims.SessionID {
		return nil, "", &SessionInvalidError{Reason: ReasonRevoked}
	}

	// Sliding window: every successful use extends the server-side lifetime.
	if err := a.redis.Set(ctx, pointerKey(claims.UserID), claims.SessionID, a.defaultTTL); err != nil {
		a.logger.Warn("failed to slide session pointer",
			logging.Int64("user_id", claims.UserID),
			logging.Error(err),
		)
	}

	expiresAt := claims.ExpiresAt.Time
	subject := &Subject{
		UserID:    claims.UserID,
		SessionID: sessionID,
		ExpiresAt: expiresAt,
	}

	now := a.now()
	if expiresAt.Sub(now) < a.refreshThreshold {
		refreshed, err := a.mint(claims.UserID, sessionID, now, now.Add(a.defaultTTL))
		if err != nil {
			a.logger.Warn("failed to mint replacement token",
				logging.Int64("user_id", claims.UserID),
				logging.Error(err),
			)
			return subject, "", nil
		}
		return subject, refreshed, nil
	}

	return subject, "", nil
}

// Revoke ends the user's current session.
func (a *Authority) Revoke(ctx context.Context, userID int64, sessionID uuid.UUID) error {
	if err := a.redis.Del(ctx, pointerKey(userID)); err != nil {
		return fmt.Errorf("failed to delete session pointer: %w", err)
	}

	if err := a.store.Revoke(ctx, sessionID, a.now()); err != nil {
		a.logger.Warn("failed to mark session row revoked",
			logging.Int64("user_id", userID),
			logging.Error(err),
		)
	}

	return nil
}

func (a *Authority) mint(userID int64, sessionID uuid.UUID, issuedAt, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserID:    userID,
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signed, nil
}
