package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NotificationType string

const (
	NotificationMessage      NotificationType = "message"
	NotificationMention      NotificationType = "mention"
	NotificationAnnouncement NotificationType = "announcement"
	NotificationSystem       NotificationType = "system"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationMessage, NotificationMention, NotificationAnnouncement, NotificationSystem:
		return true
	}
	return false
}

type Notification struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID         `gorm:"type:uuid;not null;index:idx_notifications_user_read,priority:1" json:"user_id"`
	Type      NotificationType  `gorm:"type:varchar(20);not null" json:"type"`
	Title     string            `gorm:"type:varchar(255);not null" json:"title"`
	TitleAr   string            `gorm:"type:varchar(255)" json:"title_ar,omitempty"`
	Content   string            `gorm:"type:text" json:"content,omitempty"`
	ContentAr string            `gorm:"type:text" json:"content_ar,omitempty"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	IsRead    bool              `gorm:"not null;default:false;index:idx_notifications_user_read,priority:2" json:"is_read"`
	ReadAt    *time.Time        `json:"read_at,omitempty"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// LocalizedTitle returns the title in the requested locale, falling back to English.
func (n *Notification) LocalizedTitle(locale Locale) string {
	if locale == LocaleArabic && n.TitleAr != "" {
		return n.TitleAr
	}
	return n.Title
}

func (n *Notification) LocalizedContent(locale Locale) string {
	if locale == LocaleArabic && n.ContentAr != "" {
		return n.ContentAr
	}
	return n.Content
}
