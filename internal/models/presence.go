package models

import (
	"time"

	"github.com/google/uuid"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// UserPresence has exactly one row per user.
type UserPresence struct {
	UserID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"user_id"`
	Status          PresenceStatus `gorm:"type:varchar(20);not null;default:'offline'" json:"status"`
	LastSeen        time.Time      `gorm:"not null;index" json:"last_seen"`
	StatusMessage   string         `gorm:"type:varchar(200)" json:"status_message,omitempty"`
	StatusMessageAr string         `gorm:"type:varchar(200)" json:"status_message_ar,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TableName keeps the singular table name used by the presence queries.
func (UserPresence) TableName() string {
	return "user_presence"
}
