package repository

import (
	"context"
	"time"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

// BatchInsert bulk inserts notifications for a fan-out.
func (r *NotificationRepository) BatchInsert(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(notifications, 500).Error
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	return first[models.Notification](r.db.WithContext(ctx).Where("id = ?", id))
}

// List returns the newest notifications of a user.
func (r *NotificationRepository) List(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, err
}

// MarkRead flips one unread notification; false when it was already read.
func (r *NotificationRepository) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]any{"is_read": true, "read_at": at})
	return res.RowsAffected > 0, res.Error
}

// MarkAllRead flips every unread notification of a user in one transaction
// and returns the flipped rows as they were before.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) ([]models.Notification, error) {
	var unread []models.Notification
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND is_read = ?", userID, false).Find(&unread).Error; err != nil {
			return err
		}
		if len(unread) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(unread))
		for i := range unread {
			ids[i] = unread[i].ID
		}
		return tx.Model(&models.Notification{}).
			Where("id IN ? AND is_read = ?", ids, false).
			Updates(map[string]any{"is_read": true, "read_at": at}).Error
	})
	return unread, err
}

func (r *NotificationRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Notification{})
	return res.RowsAffected > 0, res.Error
}
