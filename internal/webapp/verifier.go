// Package webapp validates the signed identity payload a Telegram WebApp
// client sends on login.
package webapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/storage"
	"github.com/dkurbatov/freightgate/internal/telemetry"
)

// Failure reasons carried by InvalidIdentityError.
const (
	ReasonMissingSignature  = "missing_signature"
	ReasonSignatureMismatch = "signature_mismatch"
	ReasonMissingTimestamp  = "missing_timestamp"
	ReasonInvalidTimestamp  = "invalid_timestamp"
	ReasonExpired           = "expired"
	ReasonFutureTimestamp   = "future_timestamp"
	ReasonMissingUser       = "missing_user"
	ReasonInvalidUser       = "invalid_user"
	ReasonMalformedPayload  = "malformed_payload"
)

// InvalidIdentityError is a client-facing validation failure; it is never
// retried automatically.
type InvalidIdentityError struct {
	Reason string
}

func (e *InvalidIdentityError) Error() string {
	return "invalid identity payload: " + e.Reason
}

// Identity is the verified subject embedded in the payload. It exists only
// for the duration of one login request.
type Identity struct {
	SubjectID   int64
	DisplayName string
	Handle      string
	IssuedAt    time.Time
}

const (
	clockSkewTolerance = 10 * time.Second

	failureCounterTTL = 2 * time.Minute
	failureAlertAfter = 10
)

// Verifier checks the HMAC signature and freshness of the identity payload.
type Verifier struct {
	secret    []byte
	redis     *storage.RedisClient
	logger    logging.Logger
	telemetry telemetry.Telemetry

	now func() time.Time
}

// NewVerifier derives the signing secret by hashing the shared bot token,
// matching what the Telegram client side signs with.
func NewVerifier(botToken string, redis *storage.RedisClient, logger logging.Logger, tel telemetry.Telemetry) *Verifier {
	secret := sha256.Sum256([]byte(botToken))

	return &Verifier{
		secret:    secret[:],
		redis:     redis,
		logger:    logger,
		telemetry: tel,
		now:       time.Now,
	}
}

// Validate parses the query-encoded payload, verifies the detached HMAC over
// the canonical key-sorted representation in constant time, checks the
// auth_date freshness window and extracts the user sub-payload.
func (v *Verifier) Validate(ctx context.Context, payload string, maxAge time.Duration) (*Identity, error) {
	values, err := url.ParseQuery(payload)
	if err != nil {
		return nil, v.fail(ctx, ReasonMalformedPayload)
	}

	supplied := values.Get("hash")
	if supplied == "" {
		return nil, v.fail(ctx, ReasonMissingSignature)
	}
	values.Del("hash")

	suppliedMAC, err := hex.DecodeString(supplied)
	if err != nil {
		return nil, v.fail(ctx, ReasonSignatureMismatch)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(canonical(values)))

	// Constant-time comparison; this is an authentication boundary.
	if !hmac.Equal(suppliedMAC, mac.Sum(nil)) {
		return nil, v.fail(ctx, ReasonSignatureMismatch)
	}

	authDate := values.Get("auth_date")
	if authDate == "" {
		return nil, v.fail(ctx, ReasonMissingTimestamp)
	}
	issuedUnix, err := strconv.ParseInt(authDate, 10, 64)
	if err != nil {
		return nil, v.fail(ctx, ReasonInvalidTimestamp)
	}

	issuedAt := time.Unix(issuedUnix, 0)
	now := v.now()

	if now.Sub(issuedAt) > maxAge {
		return nil, v.fail(ctx, ReasonExpired)
	}
	if issuedAt.Sub(now) > clockSkewTolerance {
		return nil, v.fail(ctx, ReasonFutureTimestamp)
	}

	userJSON := values.Get("user")
	if userJSON == "" {
		return nil, v.fail(ctx, ReasonMissingUser)
	}

	var user struct {
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Username  string `json:"username"`
	}
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil || user.ID == 0 {
		return nil, v.fail(ctx, ReasonInvalidUser)
	}

	return &Identity{
		SubjectID:   user.ID,
		DisplayName: strings.TrimSpace(user.FirstName + " " + user.LastName),
		Handle:      user.Username,
		IssuedAt:    issuedAt,
	}, nil
}

// canonical builds the signed representation: keys sorted, joined as
// key=value lines.
func canonical(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values.Get(k))
	}

	return b.String()
}

// fail tracks the failure reason in a short-lived shared counter and signals
// the monitoring backend when a reason spikes. This is a coarse
// anti-brute-force signal, not a hard block.
func (v *Verifier) fail(ctx context.Context, reason string) error {
	minuteBucket := v.now().Unix() / 60
	key := fmt.Sprintf("auth_failures:%d:%s", minuteBucket, reason)

	count, err := v.redis.Incr(ctx, key)
	if err != nil {
		v.logger.Warn("failed to track auth failure", logging.Error(err))
	} else {
		if count == 1 {
			v.redis.Expire(ctx, key, failureCounterTTL)
		}
		if count == failureAlertAfter+1 {
			v.telemetry.CaptureException(
				fmt.Errorf("identity validation failure spike: %s (%d in current window)", reason, count),
			)
		}
	}

	v.logger.Info("identity validation failed", logging.String("reason", reason))

	return &InvalidIdentityError{Reason: reason}
}
