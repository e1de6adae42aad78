package repository

import (
	"context"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FileRepository struct {
	db *gorm.DB
}

func NewFileRepository(db *gorm.DB) *FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) Create(ctx context.Context, f *models.FileUpload) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *FileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.FileUpload, error) {
	return first[models.FileUpload](r.db.WithContext(ctx).Where("id = ?", id))
}

// Unlinked returns the uploads among ids owned by userID that are not yet attached.
func (r *FileRepository) Unlinked(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]models.FileUpload, error) {
	var files []models.FileUpload
	if len(ids) == 0 {
		return files, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ? AND user_id = ? AND message_id IS NULL AND direct_message_id IS NULL", ids, userID).
		Find(&files).Error
	return files, err
}

func (r *FileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.FileUpload{}).Error
}
