package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/models"
	"github.com/dkurbatov/freightgate/internal/storage"
)

// fakeStore records audit-row calls without a database.
type fakeStore struct {
	created []*models.ServerSession
	revoked []uuid.UUID
	bulk    []int64
}

func (f *fakeStore) Create(ctx context.Context, s *models.ServerSession) error {
	f.created = append(f.created, s)
	return nil
}

func (f *fakeStore) RevokeAllForUser(ctx context.Context, userID int64, at time.Time) error {
	f.bulk = append(f.bulk, userID)
	return nil
}

func (f *fakeStore) Revoke(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	f.revoked = append(f.revoked, sessionID)
	return nil
}

func newTestAuthority(t *testing.T, cfg Config) (*Authority, *fakeStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisStore := storage.NewRedisFromClient(client)

	if cfg.Secret == "" {
		cfg.Secret = "test-signing-secret"
	}

	store := &fakeStore{}
	return NewAuthority(cfg, redisStore, store, logging.NewNop()), store, mr
}

func TestAuthority_CreateAndValidate(t *testing.T) {
	a, store, mr := newTestAuthority(t, Config{})
	ctx := context.Background()

	sess, err := a.Create(ctx, 42, 0, "203.0.113.9", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)
	assert.Equal(t, int64(42), sess.UserID)

	subject, refreshed, err := a.Validate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), subject.UserID)
	assert.Equal(t, sess.SessionID, subject.SessionID)
	assert.Empty(t, refreshed, "fresh token must not trigger a refresh")

	// Pointer holds the winning session id
	pointer, err := mr.Get("session_pointer:42")
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID.String(), pointer)

	// One audit row was written with the request metadata
	require.Len(t, store.created, 1)
	assert.Equal(t, "203.0.113.9", store.created[0].IP)
	assert.Equal(t, []int64{42}, store.bulk)
}

func TestAuthority_RejectsShortTTL(t *testing.T) {
	a, _, _ := newTestAuthority(t, Config{})

	_, err := a.Create(context.Background(), 42, 30*time.Second, "", "")
	assert.ErrorIs(t, err, ErrTTLTooShort)
}

func TestAuthority_SecondLoginInvalidatesFirstToken(t *testing.T) {
	a, _, _ := newTestAuthority(t, Config{})
	ctx := context.Background()

	first, err := a.Create(ctx, 42, 0, "", "")
	require.NoError(t, err)

	second, err := a.Create(ctx, 42, 0, "", "")
	require.NoError(t, err)

	_, _, err = a.Validate(ctx, first.Token)
	assertSessionReason(t, err, ReasonRevoked)

	subject, _, err := a.Validate(ctx, second.Token)
	require.NoError(t, err)
	assert.Equal(t, second.SessionID, subject.SessionID)
}

func TestAuthority_RevokeEndsSession(t *testing.T) {
	a, store, mr := newTestAuthority(t, Config{})
	ctx := context.Background()

	sess, err := a.Create(ctx, 42, 0, "", "")
	require.NoError(t, err)

	require.NoError(t, a.Revoke(ctx, 42, sess.SessionID))

	assert.False(t, mr.Exists("session_pointer:42"))
	assert.Equal(t, []uuid.UUID{sess.SessionID}, store.revoked)

	_, _, err = a.Validate(ctx, sess.Token)
	assertSessionReason(t, err, ReasonRevoked)
}

func TestAuthority_ExpiredTokenRejectedDespitePointer(t *testing.T) {
	a, _, _ := newTestAuthority(t, Config{})
	ctx := context.Background()

	// Mint a token whose expiry already passed while keeping a live pointer
	a.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	sess, err := a.Create(ctx, 42, 24*time.Hour, "", "")
	require.NoError(t, err)
	a.now = time.Now

	_, _, err = a.Validate(ctx, sess.Token)
	assertSessionReason(t, err, ReasonExpired)
}

func TestAuthority_GarbageTokenRejected(t *testing.T) {
	a, _, _ := newTestAuthority(t, Config{})

	_, _, err := a.Validate(context.Background(), "not.a.token")
	assertSessionReason(t, err, ReasonInvalid)
}

func TestAuthority_TokenSignedWithOtherSecretRejected(t *testing.T) {
	issuer, _, _ := newTestAuthority(t, Config{Secret: "secret-a"})
	verifier, _, _ := newTestAuthority(t, Config{Secret: "secret-b"})
	ctx := context.Background()

	sess, err := issuer.Create(ctx, 42, 0, "", "")
	require.NoError(t, err)

	_, _, err = verifier.Validate(ctx, sess.Token)
	assertSessionReason(t, err, ReasonInvalid)
}

func TestAuthority_RefreshesTokenNearExpiry(t *testing.T) {
	a, _, _ := newTestAuthority(t, Config{RefreshThreshold: 4 * time.Hour})
	ctx := context.Background()

	// Two hours of remaining lifetime is below the four hour threshold
	sess, err := a.Create(ctx, 42, 2*time.Hour, "", "")
	require.NoError(t, err)

	subject, refreshed, err := a.Validate(ctx, sess.Token)
	require.NoError(t, err)
	require.NotEmpty(t, refreshed)
	assert.NotEqual(t, sess.Token, refreshed)

	// The replacement is immediately valid and carries the same session
	refreshedSubject, _, err := a.Validate(ctx, refreshed)
	require.NoError(t, err)
	assert.Equal(t, subject.SessionID, refreshedSubject.SessionID)
	assert.True(t, refreshedSubject.ExpiresAt.After(subject.ExpiresAt))
}

func TestAuthority_ValidationSlidesPointerTTL(t *testing.T) {
	a, _, mr := newTestAuthority(t, Config{TTL: 24 * time.Hour})
	ctx := context.Background()

	sess, err := a.Create(ctx, 42, 2*time.Hour, "", "")
	require.NoError(t, err)

	// Burn most of the pointer lifetime, then validate
	mr.FastForward(90 * time.Minute)

	_, _, err = a.Validate(ctx, sess.Token)
	require.NoError(t, err)

	// The pointer TTL was rewritten to the full configured lifetime
	assert.Greater(t, mr.TTL("session_pointer:42"), 23*time.Hour)
}

func TestAuthority_PointerLossMeansRevoked(t *testing.T) {
	a, _, mr := newTestAuthority(t, Config{})
	ctx := context.Background()

	sess, err := a.Create(ctx, 42, 0, "", "")
	require.NoError(t, err)

	mr.Del("session_pointer:42")

	_, _, err = a.Validate(ctx, sess.Token)
	assertSessionReason(t, err, ReasonRevoked)
}

func assertSessionReason(t *testing.T, err error, reason string) {
	t.Helper()

	require.Error(t, err)

	var sessionErr *SessionInvalidError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, reason, sessionErr.Reason)
}
