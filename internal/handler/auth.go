package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkurbatov/freightgate/internal/audit"
	"github.com/dkurbatov/freightgate/internal/logging"
	"github.com/dkurbatov/freightgate/internal/middleware"
	"github.com/dkurbatov/freightgate/internal/service"
	"github.com/dkurbatov/freightgate/internal/session"
	"github.com/dkurbatov/freightgate/internal/webapp"
)

type AuthHandler struct {
	verifier     *webapp.Verifier
	authority    *session.Authority
	users        *service.UserService
	audit        *audit.Recorder
	logger       logging.Logger
	maxAge       time.Duration
	sessionTTL   time.Duration
	cookieSecure bool
}

func NewAuthHandler(
	verifier *webapp.Verifier,
	authority *session.Authority,
	users *service.UserService,
	auditRec *audit.Recorder,
	logger logging.Logger,
	maxAge, sessionTTL time.Duration,
	cookieSecure bool,
) *AuthHandler {
	return &AuthHandler{
		verifier:     verifier,
		authority:    authority,
		users:        users,
		audit:        auditRec,
		logger:       logger,
		maxAge:       maxAge,
		sessionTTL:   sessionTTL,
		cookieSecure: cookieSecure,
	}
}

// Login validates the WebApp identity payload and opens a session. The token
// is returned in the body and also set as an httpOnly cookie.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		InitData string `json:"init_data" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "init_data is required"})
		return
	}

	ctx := c.Request.Context()

	identity, err := h.verifier.Validate(ctx, req.InitData, h.maxAge)
	if err != nil {
		var identityErr *webapp.InvalidIdentityError
		if errors.As(err, &identityErr) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid identity payload"})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	user, err := h.users.EnsureUser(ctx, identity)
	if err != nil {
		h.logger.Error("failed to resolve user on login",
			logging.Int64("user_id", identity.SubjectID),
			logging.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	sess, err := h.authority.Create(ctx, user.ID, h.sessionTTL, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		h.logger.Error("failed to create session",
			logging.Int64("user_id", user.ID),
			logging.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	h.audit.Record(user.ID, "auth", "webapp login", sess.SessionID.String(), map[string]interface{}{
		"ip":         c.ClientIP(),
		"user_agent": c.Request.UserAgent(),
	})

	h.setSessionCookie(c, sess.Token, int(time.Until(sess.ExpiresAt).Seconds()))

	c.JSON(http.StatusOK, gin.H{
		"token":      sess.Token,
		"expires_at": sess.ExpiresAt.Unix(),
		"user": gin.H{
			"id":           user.ID,
			"display_name": user.DisplayName,
			"handle":       user.Handle,
		},
	})
}

// Logout revokes the current session and clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	subject, ok := middleware.CurrentSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	if err := h.authority.Revoke(c.Request.Context(), subject.UserID, subject.SessionID); err != nil {
		h.logger.Error("failed to revoke session",
			logging.Int64("user_id", subject.UserID),
			logging.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}

	h.audit.Record(subject.UserID, "auth", "logout", subject.SessionID.String(), nil)

	h.setSessionCookie(c, "", -1)

	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	subject, ok := middleware.CurrentSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	user, err := h.users.Get(c.Request.Context(), subject.UserID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           user.ID,
		"display_name": user.DisplayName,
		"handle":       user.Handle,
		"created_at":   user.CreatedAt.Unix(),
	})
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, maxAge, "/", "", h.cookieSecure, true)
}
