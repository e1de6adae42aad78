package main

import (
	"context"
	"log"

	"github.com/Baaaki/teamchat/internal/config"
	"github.com/Baaaki/teamchat/internal/database"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/internal/utils"
	"github.com/Baaaki/teamchat/pkg/logger"
	"go.uber.org/zap"
)

// defaultChannels every new account joins on registration.
var defaultChannels = []models.Channel{
	{
		Name:          "General",
		NameAr:        "عام",
		Description:   "Company-wide conversation",
		DescriptionAr: "محادثة على مستوى الشركة",
		Type:          models.ChannelPublic,
		Icon:          "hash",
		IsDefault:     true,
	},
	{
		Name:          "Announcements",
		NameAr:        "الإعلانات",
		Description:   "Official announcements",
		DescriptionAr: "الإعلانات الرسمية",
		Type:          models.ChannelAnnouncement,
		Icon:          "megaphone",
		IsDefault:     true,
	},
}

func main() {
	cfg := config.Load()
	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		logger.Log.Fatal("Missing environment variables: ADMIN_EMAIL, ADMIN_PASSWORD")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to connect database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Log.Fatal("Failed to migrate database", zap.Error(err))
	}

	ctx := context.Background()
	users := repository.NewUserRepository(db)
	channels := repository.NewChannelRepository(db)
	members := repository.NewMemberRepository(db)

	admin, err := users.GetByEmail(ctx, cfg.AdminEmail)
	if err != nil {
		logger.Log.Fatal("Failed to look up admin", zap.Error(err))
	}
	if admin != nil {
		logger.Log.Info("Admin user already exists", zap.String("email", admin.Email))
	} else {
		passwordHash, err := utils.HashPassword(cfg.AdminPassword)
		if err != nil {
			logger.Log.Fatal("Failed to hash password", zap.Error(err))
		}
		admin = &models.User{
			Email:         cfg.AdminEmail,
			PasswordHash:  passwordHash,
			DisplayName:   "Administrator",
			DisplayNameAr: "المسؤول",
			Role:          models.RoleAdmin,
			Locale:        models.LocaleEnglish,
			IsActive:      true,
		}
		if err := users.Create(ctx, admin); err != nil {
			logger.Log.Fatal("Failed to create admin", zap.Error(err))
		}
		logger.Log.Info("Admin user created", zap.String("email", admin.Email))
	}

	for _, def := range defaultChannels {
		existing, err := channels.GetByName(ctx, def.Name)
		if err != nil {
			logger.Log.Fatal("Failed to look up channel", zap.String("name", def.Name), zap.Error(err))
		}
		if existing != nil {
			logger.Log.Info("Channel already exists", zap.String("name", def.Name))
			continue
		}

		channel := def
		channel.CreatedBy = &admin.ID
		owner := &models.ChannelMember{
			UserID:   admin.ID,
			Role:     models.MemberOwner,
			JoinedAt: database.Now(),
		}
		if err := channels.CreateWithOwner(ctx, &channel, owner); err != nil {
			logger.Log.Fatal("Failed to create channel", zap.String("name", def.Name), zap.Error(err))
		}
		logger.Log.Info("Channel created", zap.String("name", channel.Name), zap.String("id", channel.ID.String()))
	}

	// Pick up accounts registered before the defaults existed.
	defaults, err := channels.ListDefault(ctx)
	if err != nil {
		logger.Log.Fatal("Failed to list default channels", zap.Error(err))
	}
	active, err := users.ActiveIDs(ctx)
	if err != nil {
		logger.Log.Fatal("Failed to list users", zap.Error(err))
	}
	joined := 0
	for _, ch := range defaults {
		for _, userID := range active {
			inserted, err := members.InsertIfAbsent(ctx, &models.ChannelMember{
				ChannelID: ch.ID,
				UserID:    userID,
				Role:      models.MemberMember,
				JoinedAt:  database.Now(),
			})
			if err != nil {
				logger.Log.Fatal("Failed to add member", zap.Error(err))
			}
			if inserted {
				joined++
			}
		}
	}
	logger.Log.Info("Seed completed", zap.Int("memberships_added", joined))
}
