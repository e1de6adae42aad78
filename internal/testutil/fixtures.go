package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/Baaaki/teamchat/internal/database"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultPassword is the plain password of every fixture user.
const DefaultPassword = "Test123456"

// cheap Argon2 parameters; VerifyPassword reads them back from the hash.
var fixtureHashParams = utils.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

// CreateTestUser inserts an active user with a hashed DefaultPassword.
func CreateTestUser(t *testing.T, db *gorm.DB, name string, role models.Role) *models.User {
	t.Helper()

	hashedPassword, err := utils.HashPasswordWith(DefaultPassword, fixtureHashParams)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	user := &models.User{
		Email:         fmt.Sprintf("%s-%s@example.com", name, uuid.NewString()[:8]),
		PasswordHash:  hashedPassword,
		DisplayName:   name,
		DisplayNameAr: name + " (ar)",
		Role:          role,
		Locale:        models.LocaleEnglish,
		IsActive:      true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// DefaultTestUser inserts a regular employee.
func DefaultTestUser(t *testing.T, db *gorm.DB) *models.User {
	return CreateTestUser(t, db, "testuser", models.RoleEmployee)
}

// DefaultAdminUser inserts an admin.
func DefaultAdminUser(t *testing.T, db *gorm.DB) *models.User {
	return CreateTestUser(t, db, "admin", models.RoleAdmin)
}

// CreateTestChannel inserts a channel of the given type owned by owner.
func CreateTestChannel(t *testing.T, db *gorm.DB, name string, typ models.ChannelType, owner *models.User) *models.Channel {
	t.Helper()

	channel := &models.Channel{
		Name:   name,
		NameAr: name + " (ar)",
		Type:   typ,
	}
	if owner != nil {
		channel.CreatedBy = &owner.ID
	}
	if err := db.Create(channel).Error; err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if owner != nil {
		AddTestMember(t, db, channel, owner, models.MemberOwner)
	}
	return channel
}

// AddTestMember inserts a membership row.
func AddTestMember(t *testing.T, db *gorm.DB, channel *models.Channel, user *models.User, role models.MemberRole) *models.ChannelMember {
	t.Helper()

	member := &models.ChannelMember{
		ChannelID:            channel.ID,
		UserID:               user.ID,
		Role:                 role,
		JoinedAt:             database.Now(),
		NotificationsEnabled: true,
	}
	if err := db.Create(member).Error; err != nil {
		t.Fatalf("create member: %v", err)
	}
	return member
}

// CreateTestMessage inserts a channel message at the given time.
func CreateTestMessage(t *testing.T, db *gorm.DB, channel *models.Channel, author *models.User, content string, at time.Time) *models.Message {
	t.Helper()

	msg := &models.Message{
		ChannelID:   channel.ID,
		UserID:      author.ID,
		Content:     content,
		ContentType: models.ContentText,
		Metadata:    map[string]any{},
		CreatedAt:   at.UTC().Truncate(time.Microsecond),
	}
	if err := db.Create(msg).Error; err != nil {
		t.Fatalf("create message: %v", err)
	}
	return msg
}

// CreateTestDirectMessage inserts a direct message at the given time.
func CreateTestDirectMessage(t *testing.T, db *gorm.DB, from, to *models.User, content string, at time.Time) *models.DirectMessage {
	t.Helper()

	dm := &models.DirectMessage{
		FromUserID:  from.ID,
		ToUserID:    to.ID,
		Content:     content,
		ContentType: models.ContentText,
		Metadata:    map[string]any{},
		CreatedAt:   at.UTC().Truncate(time.Microsecond),
	}
	if err := db.Create(dm).Error; err != nil {
		t.Fatalf("create direct message: %v", err)
	}
	return dm
}
