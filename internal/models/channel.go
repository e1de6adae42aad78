package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChannelType string

const (
	ChannelPublic       ChannelType = "public"
	ChannelPrivate      ChannelType = "private"
	ChannelDepartment   ChannelType = "department"
	ChannelAnnouncement ChannelType = "announcement"
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelPublic, ChannelPrivate, ChannelDepartment, ChannelAnnouncement:
		return true
	}
	return false
}

// OpenToRead reports whether non-members may read the channel.
func (t ChannelType) OpenToRead() bool {
	return t == ChannelPublic || t == ChannelAnnouncement
}

type Channel struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string      `gorm:"type:varchar(100);not null" json:"name"`
	NameAr        string      `gorm:"type:varchar(100);not null" json:"name_ar"`
	Description   string      `gorm:"type:text" json:"description,omitempty"`
	DescriptionAr string      `gorm:"type:text" json:"description_ar,omitempty"`
	Type          ChannelType `gorm:"type:varchar(20);not null;default:'public';index" json:"type"`
	Department    string      `gorm:"type:varchar(100)" json:"department,omitempty"`
	Icon          string      `gorm:"type:varchar(50)" json:"icon,omitempty"`
	Color         string      `gorm:"type:varchar(20)" json:"color,omitempty"`
	IsArchived    bool        `gorm:"not null;default:false" json:"is_archived"`
	IsDefault     bool        `gorm:"not null;default:false" json:"is_default"`
	CreatedBy     *uuid.UUID  `gorm:"type:uuid" json:"created_by,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

type MemberRole string

const (
	MemberOwner  MemberRole = "owner"
	MemberAdmin  MemberRole = "admin"
	MemberMember MemberRole = "member"
)

func (r MemberRole) Valid() bool {
	return r == MemberOwner || r == MemberAdmin || r == MemberMember
}

// CanModerate reports whether the role may manage the channel and its members.
func (r MemberRole) CanModerate() bool {
	return r == MemberOwner || r == MemberAdmin
}

// ChannelMember is unique per (channel, user).
type ChannelMember struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ChannelID            uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_channel_member" json:"channel_id"`
	UserID               uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_channel_member;index" json:"user_id"`
	Role                 MemberRole `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	JoinedAt             time.Time  `gorm:"not null" json:"joined_at"`
	LastReadAt           *time.Time `json:"last_read_at,omitempty"`
	NotificationsEnabled bool       `gorm:"not null;default:true" json:"notifications_enabled"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (m *ChannelMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
