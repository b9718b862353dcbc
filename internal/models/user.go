package models

import (
	"time"
)

// User is keyed by the Telegram account id carried in the WebApp identity payload.
type User struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	DisplayName string    `json:"display_name"`
	Handle      string    `gorm:"index" json:"handle"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

func (User) TableName() string {
	return "users"
}
