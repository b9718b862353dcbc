package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dkurbatov/freightgate/internal/models"
	"github.com/dkurbatov/freightgate/internal/storage"
)

type SessionRepository struct {
	db *storage.Postgres
}

func NewSessionRepository(db *storage.Postgres) *SessionRepository {
	return &SessionRepository{db: db}
}

// Inserts a new session row
func (r *SessionRepository) Create(ctx context.Context, session *models.ServerSession) error {
	return r.db.DB.WithContext(ctx).Create(session).Error
}

// Marks every non-revoked session of the user revoked. Called before a new
// session row is inserted so at most one row stays active per user.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID int64, at time.Time) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.ServerSession{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", at).Error
}

// Marks a single session revoked
func (r *SessionRepository) Revoke(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.ServerSession{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", at).Error
}

// Retrieves a session row by id
func (r *SessionRepository) FindByID(ctx context.Context, sessionID uuid.UUID) (*models.ServerSession, error) {
	var session models.ServerSession
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", sessionID).
		First(&session).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &session, err
}

// Retrieves sessions for a user, newest first
func (r *SessionRepository) ListForUser(ctx context.Context, userID int64, limit int) ([]models.ServerSession, error) {
	var sessions []models.ServerSession
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&sessions).Error

	return sessions, err
}
