package repository

import (
	"context"
	"time"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PresenceRepository struct {
	db *gorm.DB
}

func NewPresenceRepository(db *gorm.DB) *PresenceRepository {
	return &PresenceRepository{db: db}
}

// Upsert writes the single presence row of a user.
func (r *PresenceRepository) Upsert(ctx context.Context, p *models.UserPresence) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "last_seen", "status_message", "status_message_ar", "updated_at"}),
		}).
		Create(p).Error
}

// Touch refreshes last_seen without changing the status; false when the user has no row yet.
func (r *PresenceRepository) Touch(ctx context.Context, userID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.UserPresence{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"last_seen": at, "updated_at": at})
	return res.RowsAffected > 0, res.Error
}

func (r *PresenceRepository) Get(ctx context.Context, userID uuid.UUID) (*models.UserPresence, error) {
	return first[models.UserPresence](r.db.WithContext(ctx).Where("user_id = ?", userID))
}

func (r *PresenceRepository) List(ctx context.Context) ([]models.UserPresence, error) {
	var rows []models.UserPresence
	err := r.db.WithContext(ctx).Find(&rows).Error
	return rows, err
}

// CountOnline counts users whose stored status is online and who were seen at or after since.
func (r *PresenceRepository) CountOnline(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.UserPresence{}).
		Where("status = ? AND last_seen >= ?", models.StatusOnline, since).
		Count(&n).Error
	return n, err
}
