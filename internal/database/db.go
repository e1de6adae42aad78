package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/Baaaki/teamchat/internal/config"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Now is the clock used for every persisted timestamp: UTC at microsecond
// precision, which both Postgres and SQLite round-trip exactly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// GormConfig returns the gorm settings shared by the server and the tests.
func GormConfig(debug bool) *gorm.Config {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return &gorm.Config{
		NowFunc: Now,
		Logger:  gormlogger.Default.LogMode(level),
	}
}

// Connect opens the database named by DATABASE_URL. URLs starting with
// "sqlite:" or "file:" use the SQLite driver, everything else Postgres.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "sqlite:"):
		dialector = sqlite.Open(strings.TrimPrefix(cfg.DatabaseURL, "sqlite:"))
	case strings.HasPrefix(cfg.DatabaseURL, "file:"):
		dialector = sqlite.Open(cfg.DatabaseURL)
	default:
		dialector = postgres.Open(cfg.DatabaseURL)
	}

	db, err := gorm.Open(dialector, GormConfig(cfg.IsDevelopment()))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	DB = db
	logger.Log.Info("Database connected", zap.String("dialect", db.Dialector.Name()))
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	logger.Log.Info("Database migration completed")
	return nil
}
