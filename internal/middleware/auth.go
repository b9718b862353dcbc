package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/session"
)

const (
	subjectKey = "auth_subject"

	// SessionCookie is the cookie the WebApp client may carry the token in.
	SessionCookie = "session_token"

	// RefreshHeader carries a replacement token back to the client.
	RefreshHeader = "X-Session-Token"
)

// SessionAuth resolves the session credential on every request. A missing or
// invalid token leaves the request anonymous; it never aborts the pipeline.
// Handlers that require authentication must check explicitly (RequireAuth).
// The raw token and signing secret are never logged, only a redacted
// indicator of where a token was found.
func SessionAuth(authority *session.Authority, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, source := extractToken(c)
		if token == "" {
			c.Next()
			return
		}

		subject, refreshed, err := authority.Validate(c.Request.Context(), token)
		if err != nil {
			reason := "invalid"
			var sessionErr *session.SessionInvalidError
			if errors.As(err, &sessionErr) {
				reason = sessionErr.Reason
			}
			logger.Debug("session validation failed",
				logging.String("source", source),
				logging.String("reason", reason),
			)
			c.Next()
			return
		}

		c.Set(subjectKey, subject)

		if refreshed != "" {
			c.Header(RefreshHeader, refreshed)
		}

		c.Next()
	}
}

// RequireAuth aborts with 401 when the request carries no valid session.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentSubject(c); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// CurrentSubject returns the authenticated subject attached to the request.
func CurrentSubject(c *gin.Context) (*session.Subject, bool) {
	value, exists := c.Get(subjectKey)
	if !exists {
		return nil, false
	}

	subject, ok := value.(*session.Subject)
	return subject, ok
}

// extractToken looks for a bearer token in the authorization header first,
// then in the session cookie.
func extractToken(c *gin.Context) (token, source string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1]), "header"
		}
	}

	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie, "cookie"
	}

	return "", ""
}
