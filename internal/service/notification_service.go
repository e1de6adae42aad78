package service

import (
	"context"
	"strings"

	"github.com/Baaaki/teamchat/internal/database"
	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/metrics"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/push"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	NotificationListLimit = 50
	maxTitleLength        = 255
)

type NotificationService struct {
	notifications *repository.NotificationRepository
	users         *repository.UserRepository
	publisher     *Publisher
	pusher        push.Pusher
}

func NewNotificationService(notifications *repository.NotificationRepository, users *repository.UserRepository, publisher *Publisher, pusher push.Pusher) *NotificationService {
	if pusher == nil {
		pusher = push.Noop{}
	}
	return &NotificationService{
		notifications: notifications,
		users:         users,
		publisher:     publisher,
		pusher:        pusher,
	}
}

type CreateNotificationInput struct {
	UserID    uuid.UUID               `json:"user_id"`
	Type      models.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	TitleAr   string                  `json:"title_ar"`
	Content   string                  `json:"content"`
	ContentAr string                  `json:"content_ar"`
	Metadata  map[string]any          `json:"metadata"`
}

func (in CreateNotificationInput) validate() error {
	if !in.Type.Valid() {
		return validationError("Invalid notification type", "نوع إشعار غير صالح")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return validationError("Notification title is required", "عنوان الإشعار مطلوب")
	}
	if len([]rune(title)) > maxTitleLength || len([]rune(in.TitleAr)) > maxTitleLength {
		return validationError("Notification title is too long", "عنوان الإشعار طويل جداً")
	}
	return nil
}

func (in CreateNotificationInput) row() models.Notification {
	return models.Notification{
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     strings.TrimSpace(in.Title),
		TitleAr:   strings.TrimSpace(in.TitleAr),
		Content:   in.Content,
		ContentAr: in.ContentAr,
		Metadata:  in.Metadata,
	}
}

// Create stores one notification for an active user and publishes it on the
// user's stream.
func (s *NotificationService) Create(ctx context.Context, in CreateNotificationInput) (*models.Notification, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		return nil, storeError(err)
	}
	if user == nil || !user.IsActive {
		return nil, ErrUserNotFound
	}

	n := in.row()
	if err := s.notifications.Create(ctx, &n); err != nil {
		logger.Log.Error("Failed to create notification", zap.String("user_id", in.UserID.String()), zap.Error(err))
		return nil, storeError(err)
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()

	publishChange(ctx, s.publisher, feed.NotificationKey(n.UserID), feed.Insert, feed.EntityNotification, nil, &n)
	s.push(ctx, user, &n)
	return &n, nil
}

// CreateBatch stores notifications in batches and publishes each on its
// recipient's stream.
func (s *NotificationService) CreateBatch(ctx context.Context, batch []models.Notification) error {
	if len(batch) == 0 {
		return nil
	}
	defer metrics.TrackDBOperation("notifications_batch_insert")()

	if err := s.notifications.BatchInsert(ctx, batch); err != nil {
		logger.Log.Error("Failed to create notifications", zap.Int("count", len(batch)), zap.Error(err))
		return storeError(err)
	}

	ids := make([]uuid.UUID, 0, len(batch))
	for i := range batch {
		ids = append(ids, batch[i].UserID)
		metrics.NotificationsCreated.WithLabelValues(string(batch[i].Type)).Inc()
	}
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		logger.Log.Warn("Skipping push for batch", zap.Error(err))
	}

	for i := range batch {
		n := &batch[i]
		publishChange(ctx, s.publisher, feed.NotificationKey(n.UserID), feed.Insert, feed.EntityNotification, nil, n)
		if users != nil {
			s.push(ctx, users[n.UserID], n)
		}
	}
	return nil
}

// push is cosmetic. A user who registered a device token has granted permission.
func (s *NotificationService) push(ctx context.Context, user *models.User, n *models.Notification) {
	if user == nil || user.PushToken == "" {
		return
	}
	data := map[string]string{
		"notification_id": n.ID.String(),
		"type":            string(n.Type),
	}
	err := s.pusher.Push(ctx, push.Message{
		Token: user.PushToken,
		Title: n.LocalizedTitle(user.Locale),
		Body:  n.LocalizedContent(user.Locale),
		Data:  data,
	})
	if err != nil {
		metrics.PushFailures.Inc()
		logger.Log.Debug("Push delivery failed",
			zap.String("user_id", user.ID.String()),
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
	}
}

// List returns the newest notifications of the caller.
func (s *NotificationService) List(ctx context.Context, callerID uuid.UUID, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > NotificationListLimit {
		limit = NotificationListLimit
	}
	rows, err := s.notifications.List(ctx, callerID, limit)
	if err != nil {
		return nil, storeError(err)
	}
	return rows, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, callerID uuid.UUID) (int64, error) {
	n, err := s.notifications.UnreadCount(ctx, callerID)
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}

func (s *NotificationService) own(ctx context.Context, callerID, id uuid.UUID) (*models.Notification, error) {
	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if n == nil || n.UserID != callerID {
		return nil, ErrNotificationNotFound
	}
	return n, nil
}

// MarkRead flips one notification to read. The result reports whether this
// call performed the unread to read transition.
func (s *NotificationService) MarkRead(ctx context.Context, callerID, id uuid.UUID) (bool, error) {
	n, err := s.own(ctx, callerID, id)
	if err != nil {
		return false, err
	}
	if n.IsRead {
		return false, nil
	}

	now := database.Now()
	changed, err := s.notifications.MarkRead(ctx, id, now)
	if err != nil {
		return false, storeError(err)
	}
	if changed {
		read := *n
		read.IsRead = true
		read.ReadAt = &now
		publishChange(ctx, s.publisher, feed.NotificationKey(callerID), feed.Update, feed.EntityNotification, n, &read)
	}
	return changed, nil
}

// MarkAllRead flips every unread notification of the caller in one
// transaction and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, callerID uuid.UUID) (int, error) {
	now := database.Now()
	flipped, err := s.notifications.MarkAllRead(ctx, callerID, now)
	if err != nil {
		logger.Log.Error("Failed to mark notifications read", zap.String("user_id", callerID.String()), zap.Error(err))
		return 0, storeError(err)
	}

	key := feed.NotificationKey(callerID)
	for i := range flipped {
		old := flipped[i]
		read := old
		read.IsRead = true
		read.ReadAt = &now
		publishChange(ctx, s.publisher, key, feed.Update, feed.EntityNotification, &old, &read)
	}
	return len(flipped), nil
}

// Delete removes a notification of the caller.
func (s *NotificationService) Delete(ctx context.Context, callerID, id uuid.UUID) error {
	n, err := s.own(ctx, callerID, id)
	if err != nil {
		return err
	}
	deleted, err := s.notifications.Delete(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if deleted {
		publishChange[models.Notification](ctx, s.publisher, feed.NotificationKey(callerID), feed.Delete, feed.EntityNotification, n, nil)
	}
	return nil
}

type BroadcastInput struct {
	Title     string         `json:"title" binding:"required"`
	TitleAr   string         `json:"title_ar"`
	Content   string         `json:"content"`
	ContentAr string         `json:"content_ar"`
	Metadata  map[string]any `json:"metadata"`
}

// Broadcast sends an announcement notification to every active user and
// returns the number of recipients.
func (s *NotificationService) Broadcast(ctx context.Context, senderID uuid.UUID, in BroadcastInput) (int, error) {
	template := CreateNotificationInput{
		Type:      models.NotificationAnnouncement,
		Title:     in.Title,
		TitleAr:   in.TitleAr,
		Content:   in.Content,
		ContentAr: in.ContentAr,
		Metadata:  in.Metadata,
	}
	if err := template.validate(); err != nil {
		return 0, err
	}

	ids, err := s.users.ActiveIDs(ctx)
	if err != nil {
		return 0, storeError(err)
	}

	batch := make([]models.Notification, 0, len(ids))
	for _, id := range ids {
		item := template
		item.UserID = id
		row := item.row()
		row.Metadata = cloneMetadata(item.Metadata)
		row.Metadata["sender_id"] = senderID.String()
		batch = append(batch, row)
	}
	if err := s.CreateBatch(ctx, batch); err != nil {
		return 0, err
	}

	logger.Log.Info("Announcement broadcast",
		zap.String("sender_id", senderID.String()),
		zap.Int("recipients", len(batch)),
	)
	return len(batch), nil
}

func cloneMetadata(src map[string]any) map[string]any {
	out := make(map[string]any, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}
