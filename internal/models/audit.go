package models

import (
	"time"
)

// AuditLog is an append-only record of a notable action.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	ActorID   int64     `gorm:"index" json:"actor_id"`
	Category  string    `gorm:"index" json:"category"`
	Message   string    `json:"message"`
	TargetID  string    `json:"target_id,omitempty"`
	Details   string    `gorm:"type:jsonb" json:"details,omitempty"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
