package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleEmployee   Role = "employee"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

type Locale string

const (
	LocaleEnglish Locale = "en"
	LocaleArabic  Locale = "ar"
)

// User is never hard-deleted; deactivation clears IsActive.
type User struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email         string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"email"`
	PasswordHash  string    `gorm:"type:varchar(255);not null" json:"-"` // Never expose password hash in JSON
	DisplayName   string    `gorm:"type:varchar(100);not null" json:"display_name"`
	DisplayNameAr string    `gorm:"type:varchar(100)" json:"display_name_ar"`
	AvatarURL     string    `gorm:"type:varchar(500)" json:"avatar_url,omitempty"`
	Department    string    `gorm:"type:varchar(100);index" json:"department,omitempty"`
	Position      string    `gorm:"type:varchar(100)" json:"position,omitempty"`
	PositionAr    string    `gorm:"type:varchar(100)" json:"position_ar,omitempty"`
	Role          Role      `gorm:"type:varchar(20);not null;default:'employee'" json:"role"`
	Locale        Locale    `gorm:"type:varchar(5);not null;default:'en'" json:"locale"`
	PushToken     string    `gorm:"type:varchar(500)" json:"-"`
	IsActive      bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Name returns the display name in the requested locale, falling back to English.
func (u *User) Name(locale Locale) string {
	if locale == LocaleArabic && u.DisplayNameAr != "" {
		return u.DisplayNameAr
	}
	return u.DisplayName
}

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

func (l Locale) Valid() bool {
	return l == LocaleEnglish || l == LocaleArabic
}
