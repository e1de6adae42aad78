package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DirectMessage is a one-to-one message. FromUserID never equals ToUserID.
type DirectMessage struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	FromUserID  uuid.UUID         `gorm:"type:uuid;not null;index:idx_dm_pair,priority:1" json:"from_user_id"`
	ToUserID    uuid.UUID         `gorm:"type:uuid;not null;index:idx_dm_pair,priority:2;index" json:"to_user_id"`
	Content     string            `gorm:"type:text;not null" json:"content"`
	ContentType ContentType       `gorm:"type:varchar(20);not null;default:'text'" json:"content_type"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	ClientID    string            `gorm:"type:varchar(64);index" json:"client_id,omitempty"`
	CreatedAt   time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	IsRead bool       `gorm:"not null;default:false" json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	IsEdited bool       `gorm:"not null;default:false" json:"is_edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	IsDeleted bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	Attachments []FileUpload `gorm:"foreignKey:DirectMessageID" json:"attachments,omitempty"`
}

func (m *DirectMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Peer returns the participant that is not me.
func (m *DirectMessage) Peer(me uuid.UUID) uuid.UUID {
	if m.FromUserID == me {
		return m.ToUserID
	}
	return m.FromUserID
}
