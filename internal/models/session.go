package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ServerSession is the durable audit record of an issued session. Validity is
// decided by the session pointer in redis, not by RevokedAt; the row exists so
// logins and revocations can be traced after the fact.
type ServerSession struct {
	ID        uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	UserID    int64      `gorm:"index;not null" json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	IP        string     `json:"ip"`
	UserAgent string     `json:"user_agent"`
}

func (s *ServerSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (ServerSession) TableName() string {
	return "server_sessions"
}
