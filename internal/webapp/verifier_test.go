package webapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/storage"
	"github.com/dkurbatov/freightgate/internal/telemetry"
)

const testBotToken = "123456:test-bot-token"

func newTestVerifier(t *testing.T) (*Verifier, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := storage.NewRedisFromClient(client)

	return NewVerifier(testBotToken, store, logging.NewNop(), telemetry.Noop{}), mr
}

// signPayload builds a query-encoded payload signed the way the Telegram
// client side signs it.
func signPayload(botToken string, fields map[string]string) string {
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}

	secret := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(canonical(values)))

	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func validFields(authDate time.Time) map[string]string {
	return map[string]string{
		"auth_date": strconv.FormatInt(authDate.Unix(), 10),
		"user":      `{"id":42,"first_name":"Ivan","last_name":"Petrov","username":"ivan_p"}`,
		"query_id":  "AAH9mQEAAAAAAP2ZAQ",
	}
}

func TestValidate_AcceptsSignedPayload(t *testing.T) {
	v, _ := newTestVerifier(t)

	payload := signPayload(testBotToken, validFields(time.Now()))

	identity, err := v.Validate(context.Background(), payload, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(42), identity.SubjectID)
	assert.Equal(t, "Ivan Petrov", identity.DisplayName)
	assert.Equal(t, "ivan_p", identity.Handle)
}

func TestValidate_RejectsMissingSignature(t *testing.T) {
	v, _ := newTestVerifier(t)

	values := url.Values{}
	for k, val := range validFields(time.Now()) {
		values.Set(k, val)
	}

	_, err := v.Validate(context.Background(), values.Encode(), time.Hour)
	assertReason(t, err, ReasonMissingSignature)
}

func TestValidate_RejectsTamperedPayload(t *testing.T) {
	v, _ := newTestVerifier(t)

	payload := signPayload(testBotToken, validFields(time.Now()))

	// Swap the user id after signing
	tampered, err := url.ParseQuery(payload)
	require.NoError(t, err)
	tampered.Set("user", `{"id":43,"first_name":"Eve"}`)

	_, err = v.Validate(context.Background(), tampered.Encode(), time.Hour)
	assertReason(t, err, ReasonSignatureMismatch)
}

func TestValidate_RejectsWrongBotToken(t *testing.T) {
	v, _ := newTestVerifier(t)

	payload := signPayload("999999:other-bot-token", validFields(time.Now()))

	_, err := v.Validate(context.Background(), payload, time.Hour)
	assertReason(t, err, ReasonSignatureMismatch)
}

func TestValidate_RejectsStaleTimestamp(t *testing.T) {
	v, _ := newTestVerifier(t)

	payload := signPayload(testBotToken, validFields(time.Now().Add(-2*time.Hour)))

	_, err := v.Validate(context.Background(), payload, time.Hour)
	assertReason(t, err, ReasonExpired)
}

func TestValidate_RejectsFutureTimestamp(t *testing.T) {
	v, _ := newTestVerifier(t)

	payload := signPayload(testBotToken, validFields(time.Now().Add(time.Minute)))

	_, err := v.Validate(context.Background(), payload, time.Hour)
	assertReason(t, err, ReasonFutureTimestamp)
}

func TestValidate_ToleratesSmallClockSkew(t *testing.T) {
	v, _ := newTestVerifier(t)

	payload := signPayload(testBotToken, validFields(time.Now().Add(5*time.Second)))

	_, err := v.Validate(context.Background(), payload, time.Hour)
	assert.NoError(t, err)
}

func TestValidate_RejectsMissingUser(t *testing.T) {
	v, _ := newTestVerifier(t)

	fields := validFields(time.Now())
	delete(fields, "user")
	payload := signPayload(testBotToken, fields)

	_, err := v.Validate(context.Background(), payload, time.Hour)
	assertReason(t, err, ReasonMissingUser)
}

func TestValidate_RejectsZeroUserID(t *testing.T) {
	v, _ := newTestVerifier(t)

	fields := validFields(time.Now())
	fields["user"] = `{"id":0,"first_name":"Nobody"}`
	payload := signPayload(testBotToken, fields)

	_, err := v.Validate(context.Background(), payload, time.Hour)
	assertReason(t, err, ReasonInvalidUser)
}

func TestValidate_RejectsMissingTimestamp(t *testing.T) {
	v, _ := newTestVerifier(t)

	fields := validFields(time.Now())
	delete(fields, "auth_date")
	payload := signPayload(testBotToken, fields)

	_, err := v.Validate(context.Background(), payload, time.Hour)
	assertReason(t, err, ReasonMissingTimestamp)
}

func TestValidate_TracksFailureCounter(t *testing.T) {
	v, mr := newTestVerifier(t)

	frozen := time.Now()
	v.now = func() time.Time { return frozen }

	for i := 0; i < 3; i++ {
		_, err := v.Validate(context.Background(), "not-even-signed", time.Hour)
		require.Error(t, err)
	}

	key := fmt.Sprintf("auth_failures:%d:%s", frozen.Unix()/60, ReasonMissingSignature)
	count, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "3", count)

	ttl := mr.TTL(key)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 2*time.Minute)
}

func assertReason(t *testing.T, err error, reason string) {
	t.Helper()

	require.Error(t, err)

	var identityErr *InvalidIdentityError
	require.ErrorAs(t, err, &identityErr)
	assert.Equal(t, reason, identityErr.Reason)
}
