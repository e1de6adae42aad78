package repository

import (
	"context"
	"strings"
	"time"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts the message and links the given uploads of its author in one transaction.
func (r *MessageRepository) Create(ctx context.Context, message *models.Message, attachmentIDs []uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(message).Error; err != nil {
			return err
		}
		if len(attachmentIDs) == 0 {
			return nil
		}
		return tx.Model(&models.FileUpload{}).
			Where("id IN ? AND user_id = ?", attachmentIDs, message.UserID).
			Update("message_id", message.ID).Error
	})
}

// GetByID loads a message with its author and attachments, deleted or not.
func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	return first[models.Message](r.db.WithContext(ctx).
		Preload("Author").
		Preload("Attachments").
		Where("id = ?", id))
}

// GetByClientID finds a message previously sent by userID with the same correlation id.
func (r *MessageRepository) GetByClientID(ctx context.Context, userID uuid.UUID, clientID string) (*models.Message, error) {
	return first[models.Message](r.db.WithContext(ctx).
		Preload("Author").
		Preload("Attachments").
		Where("user_id = ? AND client_id = ?", userID, clientID))
}

// Page returns up to limit visible messages strictly older than before (all
// when before is nil), in ascending creation order.
func (r *MessageRepository) Page(ctx context.Context, channelID uuid.UUID, before *time.Time, limit int) ([]models.Message, error) {
	q := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Attachments").
		Where("channel_id = ? AND is_deleted = ?", channelID, false)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}

	var messages []models.Message
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}

// Search returns visible messages whose content contains query, newest first.
func (r *MessageRepository) Search(ctx context.Context, channelID uuid.UUID, query string, limit int) ([]models.Message, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"

	var messages []models.Message
	err := r.db.WithContext(ctx).
		Preload("Author").
		Where("channel_id = ? AND is_deleted = ? AND LOWER(content) LIKE ? ESCAPE '\\'", channelID, false, pattern).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// Update applies fields to a live message and reports whether it matched.
func (r *MessageRepository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(fields)
	return res.RowsAffected > 0, res.Error
}

// Exists reports whether a live message with id exists in channelID.
func (r *MessageRepository) Exists(ctx context.Context, channelID, id uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND channel_id = ? AND is_deleted = ?", id, channelID, false).
		Count(&n).Error
	return n > 0, err
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
