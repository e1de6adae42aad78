package repository

import (
	"context"
	"time"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DirectMessageRepository struct {
	db *gorm.DB
}

func NewDirectMessageRepository(db *gorm.DB) *DirectMessageRepository {
	return &DirectMessageRepository{db: db}
}

func (r *DirectMessageRepository) Create(ctx context.Context, dm *models.DirectMessage, attachmentIDs []uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(dm).Error; err != nil {
			return err
		}
		if len(attachmentIDs) == 0 {
			return nil
		}
		return tx.Model(&models.FileUpload{}).
			Where("id IN ? AND user_id = ?", attachmentIDs, dm.FromUserID).
			Update("direct_message_id", dm.ID).Error
	})
}

func (r *DirectMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DirectMessage, error) {
	return first[models.DirectMessage](r.db.WithContext(ctx).Preload("Attachments").Where("id = ?", id))
}

func (r *DirectMessageRepository) GetByClientID(ctx context.Context, fromUserID uuid.UUID, clientID string) (*models.DirectMessage, error) {
	return first[models.DirectMessage](r.db.WithContext(ctx).
		Preload("Attachments").
		Where("from_user_id = ? AND client_id = ?", fromUserID, clientID))
}

func betweenPair(q *gorm.DB, a, b uuid.UUID) *gorm.DB {
	return q.Where("((from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?))", a, b, b, a)
}

// Page returns up to limit visible messages between a and b strictly older
// than before, in ascending creation order.
func (r *DirectMessageRepository) Page(ctx context.Context, a, b uuid.UUID, before *time.Time, limit int) ([]models.DirectMessage, error) {
	q := betweenPair(r.db.WithContext(ctx).Preload("Attachments"), a, b).
		Where("is_deleted = ?", false)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}

	var dms []models.DirectMessage
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&dms).Error; err != nil {
		return nil, err
	}

	reverse(dms)
	return dms, nil
}

// ListForUser returns every visible message sent or received by userID.
func (r *DirectMessageRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.DirectMessage, error) {
	var dms []models.DirectMessage
	err := r.db.WithContext(ctx).
		Where("(from_user_id = ? OR to_user_id = ?) AND is_deleted = ?", userID, userID, false).
		Order("created_at DESC").
		Find(&dms).Error
	return dms, err
}

// MarkConversationRead flips every unread message from peer to me and returns
// the rows as they were before the update.
func (r *DirectMessageRepository) MarkConversationRead(ctx context.Context, me, peer uuid.UUID, at time.Time) ([]models.DirectMessage, error) {
	var unread []models.DirectMessage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("from_user_id = ? AND to_user_id = ? AND is_read = ? AND is_deleted = ?", peer, me, false, false).
			Find(&unread).Error; err != nil {
			return err
		}
		if len(unread) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(unread))
		for i := range unread {
			ids[i] = unread[i].ID
		}
		return tx.Model(&models.DirectMessage{}).
			Where("id IN ? AND is_read = ?", ids, false).
			Updates(map[string]any{"is_read": true, "read_at": at}).Error
	})
	return unread, err
}

// MarkRead flips a single message to read; false when it already was.
func (r *DirectMessageRepository) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DirectMessage{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]any{"is_read": true, "read_at": at})
	return res.RowsAffected > 0, res.Error
}

func (r *DirectMessageRepository) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.DirectMessage{}).
		Where("to_user_id = ? AND is_read = ? AND is_deleted = ?", userID, false, false).
		Count(&n).Error
	return n, err
}

// Update applies fields to a live message and reports whether it matched.
func (r *DirectMessageRepository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DirectMessage{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(fields)
	return res.RowsAffected > 0, res.Error
}
