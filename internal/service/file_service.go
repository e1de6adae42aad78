package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/internal/storage"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MaxAttachmentSize = 10 << 20
	MaxAvatarSize     = 5 << 20
	maxFileNameLength = 255
)

type UploadPurpose string

const (
	PurposeAttachment UploadPurpose = "attachment"
	PurposeAvatar     UploadPurpose = "avatar"
)

var imageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

var documentTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/plain",
	"text/csv",
}

var attachmentTypes = append(append([]string{}, imageTypes...), documentTypes...)

type FileService struct {
	files *repository.FileRepository
	users *repository.UserRepository
	store storage.ObjectStore
}

func NewFileService(files *repository.FileRepository, users *repository.UserRepository, store storage.ObjectStore) *FileService {
	return &FileService{files: files, users: users, store: store}
}

type UploadInput struct {
	OwnerID  uuid.UUID
	FileName string
	Purpose  UploadPurpose
	Body     io.Reader
}

// Upload validates size and type, stores the object and records it. The
// object is removed again when the record cannot be written.
func (s *FileService) Upload(ctx context.Context, in UploadInput) (*models.FileUpload, error) {
	limit, allowed, prefix := int64(MaxAttachmentSize), attachmentTypes, "uploads"
	if in.Purpose == PurposeAvatar {
		limit, allowed, prefix = MaxAvatarSize, imageTypes, "avatars"
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, limit+1))
	if err != nil {
		return nil, validationError("Could not read the uploaded file", "تعذر قراءة الملف المرفوع")
	}
	if len(data) == 0 {
		return nil, validationError("The uploaded file is empty", "الملف المرفوع فارغ")
	}
	if int64(len(data)) > limit {
		return nil, validationError(
			fmt.Sprintf("File is too large (max %dMB)", limit>>20),
			fmt.Sprintf("الملف كبير جداً (الحد الأقصى %d ميجابايت)", limit>>20),
		)
	}

	mtype, ok := detectAllowed(data, allowed)
	if !ok {
		if in.Purpose == PurposeAvatar {
			return nil, validationError("Avatar must be an image", "يجب أن تكون الصورة الرمزية صورة")
		}
		return nil, validationError("File type is not allowed", "نوع الملف غير مسموح به")
	}

	name := sanitizeFileName(in.FileName)
	objectPath := fmt.Sprintf("%s/%s/%d-%s%s", prefix, in.OwnerID, time.Now().UnixNano(), uuid.NewString()[:8], mtype.Extension())

	url, err := s.store.Put(ctx, objectPath, data, mtype.String())
	if err != nil {
		logger.Log.Error("Failed to store upload",
			zap.String("user_id", in.OwnerID.String()),
			zap.String("path", objectPath),
			zap.Error(err),
		)
		return nil, storeError(err)
	}

	file := &models.FileUpload{
		UserID:      in.OwnerID,
		FileName:    name,
		FileSize:    int64(len(data)),
		FileType:    mtype.String(),
		StoragePath: objectPath,
		URL:         url,
	}
	if err := s.files.Create(ctx, file); err != nil {
		s.removeObject(ctx, objectPath)
		return nil, storeError(err)
	}

	if in.Purpose == PurposeAvatar {
		if _, err := s.users.Update(ctx, in.OwnerID, map[string]any{"avatar_url": url}); err != nil {
			return nil, storeError(err)
		}
	}

	logger.Log.Info("File uploaded",
		zap.String("file_id", file.ID.String()),
		zap.String("user_id", in.OwnerID.String()),
		zap.String("type", file.FileType),
		zap.Int64("size", file.FileSize),
	)
	return file, nil
}

// Delete removes an owned file and its backing object.
func (s *FileService) Delete(ctx context.Context, callerID, id uuid.UUID) error {
	file, err := s.files.GetByID(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if file == nil {
		return ErrFileNotFound
	}
	if file.UserID != callerID {
		return ErrAccessDenied
	}

	s.removeObject(ctx, file.StoragePath)
	if err := s.files.Delete(ctx, id); err != nil {
		return storeError(err)
	}
	return nil
}

func (s *FileService) Get(ctx context.Context, id uuid.UUID) (*models.FileUpload, error) {
	file, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if file == nil {
		return nil, ErrFileNotFound
	}
	return file, nil
}

func (s *FileService) removeObject(ctx context.Context, objectPath string) {
	if err := s.store.Delete(ctx, objectPath); err != nil {
		logger.Log.Warn("Failed to remove stored object", zap.String("path", objectPath), zap.Error(err))
	}
}

// detectAllowed sniffs data and accepts it when the detected type or one of
// its parents is in allowed.
func detectAllowed(data []byte, allowed []string) (*mimetype.MIME, bool) {
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		for _, a := range allowed {
			if m.Is(a) {
				return m, true
			}
		}
	}
	return detected, false
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	if r := []rune(name); len(r) > maxFileNameLength {
		name = string(r[:maxFileNameLength])
	}
	return name
}
