package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ContentType string

const (
	ContentText   ContentType = "text"
	ContentImage  ContentType = "image"
	ContentFile   ContentType = "file"
	ContentSystem ContentType = "system"
)

// MetaMentions lists the user ids mentioned by a channel message.
const (
	MetaMentions    = "mentions"
	MetaAttachments = "attachments"
)

type Message struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	ChannelID   uuid.UUID         `gorm:"type:uuid;not null;index:idx_messages_channel_created,priority:1" json:"channel_id"`
	UserID      uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	Content     string            `gorm:"type:text;not null" json:"content"`
	ContentType ContentType       `gorm:"type:varchar(20);not null;default:'text'" json:"content_type"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	ThreadID    *uuid.UUID        `gorm:"type:uuid;index" json:"thread_id,omitempty"`
	ClientID    string            `gorm:"type:varchar(64);index" json:"client_id,omitempty"`
	CreatedAt   time.Time         `gorm:"index:idx_messages_channel_created,priority:2" json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	IsEdited bool       `gorm:"not null;default:false" json:"is_edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	//Soft Delete Fields
	IsDeleted bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	Author      *User        `gorm:"foreignKey:UserID" json:"author,omitempty"`
	Attachments []FileUpload `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Mentions returns the user ids listed in the mentions metadata.
func (m *Message) Mentions() []uuid.UUID {
	return uuidList(m.Metadata, MetaMentions)
}

func uuidList(meta datatypes.JSONMap, key string) []uuid.UUID {
	raw, ok := meta[key]
	if !ok {
		return nil
	}
	var out []uuid.UUID
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if id, err := uuid.Parse(s); err == nil {
					out = append(out, id)
				}
			}
		}
	case []string:
		for _, s := range v {
			if id, err := uuid.Parse(s); err == nil {
				out = append(out, id)
			}
		}
	}
	return out
}
