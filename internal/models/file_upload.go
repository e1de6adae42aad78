package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FileUpload struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	FileName        string     `gorm:"type:varchar(255);not null" json:"file_name"`
	FileSize        int64      `gorm:"not null" json:"file_size"`
	FileType        string     `gorm:"type:varchar(100);not null" json:"file_type"`
	StoragePath     string     `gorm:"type:varchar(500);not null" json:"storage_path"`
	URL             string     `gorm:"type:varchar(1000);not null" json:"url"`
	MessageID       *uuid.UUID `gorm:"type:uuid;index" json:"message_id,omitempty"`
	DirectMessageID *uuid.UUID `gorm:"type:uuid;index" json:"direct_message_id,omitempty"`
	UploadedAt      time.Time  `gorm:"autoCreateTime" json:"uploaded_at"`
}

func (f *FileUpload) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// Descriptor is the attachment summary embedded in message metadata.
func (f *FileUpload) Descriptor() map[string]any {
	return map[string]any{
		"id":   f.ID.String(),
		"name": f.FileName,
		"size": f.FileSize,
		"type": f.FileType,
		"url":  f.URL,
	}
}
