package service

import (
	"context"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Baaaki/teamchat/internal/database"
	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/metrics"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// InitialPageSize is the size of the first page of a conversation.
	InitialPageSize = 50
	// OlderPageSize is the size of each "load more" page.
	OlderPageSize = 25
	MaxPageSize   = 100

	MaxContentLength  = 5000
	maxClientIDLength = 64
	searchLimit       = 20
)

// Page is one page of a conversation in ascending creation order.
// HasMore is true when the page is full, so older items may exist.
type Page[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

// pageLimit applies the default sizes: 50 for the first page, 25 when paging backwards.
func pageLimit(before *time.Time, limit int) (int, error) {
	if limit < 0 {
		return 0, validationError("Page size must be positive", "حجم الصفحة يجب أن يكون موجباً")
	}
	if limit == 0 {
		if before == nil {
			return InitialPageSize, nil
		}
		return OlderPageSize, nil
	}
	if limit > MaxPageSize {
		return MaxPageSize, nil
	}
	return limit, nil
}

// normalizeContent trims and escapes content and validates it for the content type.
func normalizeContent(content string, ct models.ContentType, hasAttachments bool) (string, error) {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", validationError("Message is too long (max 5000 characters)", "الرسالة طويلة جداً (الحد الأقصى 5000 حرف)")
	}
	switch ct {
	case models.ContentText:
		if content == "" {
			return "", validationError("Message cannot be empty", "لا يمكن أن تكون الرسالة فارغة")
		}
	case models.ContentImage, models.ContentFile:
		if content == "" && !hasAttachments {
			return "", validationError("Attach a file or write a message", "أرفق ملفاً أو اكتب رسالة")
		}
	case models.ContentSystem:
		return "", validationError("System messages cannot be sent by users", "لا يمكن للمستخدمين إرسال رسائل النظام")
	default:
		return "", validationError("Unknown content type", "نوع المحتوى غير معروف")
	}
	return html.EscapeString(content), nil
}

func validateClientID(clientID string) error {
	if len(clientID) > maxClientIDLength {
		return validationError("Client id is too long", "معرّف العميل طويل جداً")
	}
	return nil
}

// normalizeMetadata copies client metadata, keeps only well-formed mentions and
// replaces attachments with server-computed descriptors.
func normalizeMetadata(in map[string]any, files []models.FileUpload) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	delete(out, models.MetaAttachments)

	if _, ok := out[models.MetaMentions]; ok {
		mentions := (&models.Message{Metadata: out}).Mentions()
		ids := make([]string, 0, len(mentions))
		for _, id := range mentions {
			ids = append(ids, id.String())
		}
		out[models.MetaMentions] = ids
	}

	if len(files) > 0 {
		descriptors := make([]map[string]any, 0, len(files))
		for i := range files {
			descriptors = append(descriptors, files[i].Descriptor())
		}
		out[models.MetaAttachments] = descriptors
	}
	return out
}

type MessageService struct {
	messages  *repository.MessageRepository
	files     *repository.FileRepository
	channels  *ChannelService
	publisher *Publisher
}

func NewMessageService(messages *repository.MessageRepository, files *repository.FileRepository, channels *ChannelService, publisher *Publisher) *MessageService {
	return &MessageService{
		messages:  messages,
		files:     files,
		channels:  channels,
		publisher: publisher,
	}
}

type SendMessageInput struct {
	ChannelID     uuid.UUID          `json:"channel_id"`
	AuthorID      uuid.UUID          `json:"-"`
	Content       string             `json:"content"`
	ContentType   models.ContentType `json:"content_type"`
	Metadata      map[string]any     `json:"metadata"`
	ThreadID      *uuid.UUID         `json:"thread_id"`
	ClientID      string             `json:"client_id"`
	AttachmentIDs []uuid.UUID        `json:"attachment_ids"`
}

// Send persists a channel message from a member and publishes it on the
// channel stream. Repeating a send with the same client id returns the
// message stored the first time.
func (s *MessageService) Send(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	start := time.Now()

	if in.ContentType == "" {
		in.ContentType = models.ContentText
	}
	content, err := normalizeContent(in.Content, in.ContentType, len(in.AttachmentIDs) > 0)
	if err != nil {
		logger.Log.Warn("Message validation failed",
			zap.String("user_id", in.AuthorID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	if err := validateClientID(in.ClientID); err != nil {
		return nil, err
	}

	channel, _, err := s.channels.RequireMember(ctx, in.AuthorID, in.ChannelID)
	if err != nil {
		return nil, err
	}
	if channel.IsArchived {
		return nil, ErrChannelArchived
	}

	if in.ClientID != "" {
		existing, err := s.messages.GetByClientID(ctx, in.AuthorID, in.ClientID)
		if err != nil {
			return nil, storeError(err)
		}
		if existing != nil && existing.ChannelID == in.ChannelID {
			logger.Log.Debug("Duplicate send collapsed",
				zap.String("client_id", in.ClientID),
				zap.String("message_id", existing.ID.String()),
			)
			return existing, nil
		}
	}

	if in.ThreadID != nil {
		ok, err := s.messages.Exists(ctx, in.ChannelID, *in.ThreadID)
		if err != nil {
			return nil, storeError(err)
		}
		if !ok {
			return nil, ErrMessageNotFound
		}
	}

	files, err := s.files.Unlinked(ctx, in.AuthorID, in.AttachmentIDs)
	if err != nil {
		return nil, storeError(err)
	}
	if len(files) != len(in.AttachmentIDs) {
		return nil, validationError("Attachment not found or already used", "المرفق غير موجود أو مستخدم بالفعل")
	}

	msg := &models.Message{
		ChannelID:   in.ChannelID,
		UserID:      in.AuthorID,
		Content:     content,
		ContentType: in.ContentType,
		Metadata:    normalizeMetadata(in.Metadata, files),
		ThreadID:    in.ThreadID,
		ClientID:    in.ClientID,
	}

	done := metrics.TrackDBOperation("message_create")
	err = s.messages.Create(ctx, msg, in.AttachmentIDs)
	done()
	if err != nil {
		logger.Log.Error("Failed to save message",
			zap.String("channel_id", in.ChannelID.String()),
			zap.String("user_id", in.AuthorID.String()),
			zap.Error(err),
		)
		return nil, storeError(err)
	}

	// reload so subscribers receive the author profile and attachments
	if stored, err := s.messages.GetByID(ctx, msg.ID); err == nil && stored != nil {
		msg = stored
	}

	publishChange(ctx, s.publisher, feed.ChannelKey(msg.ChannelID), feed.Insert, feed.EntityMessage, nil, msg)

	logger.Log.Debug("Message sent",
		zap.String("message_id", msg.ID.String()),
		zap.String("channel_id", msg.ChannelID.String()),
		zap.Duration("duration", time.Since(start)),
	)
	return msg, nil
}

// Edit replaces the content of a live message; author only.
func (s *MessageService) Edit(ctx context.Context, callerID, messageID uuid.UUID, content string) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, storeError(err)
	}
	if msg == nil || msg.IsDeleted {
		return nil, ErrMessageNotFound
	}
	if msg.UserID != callerID {
		logger.Log.Warn("Edit rejected: not the author",
			zap.String("message_id", messageID.String()),
			zap.String("user_id", callerID.String()),
		)
		return nil, ErrNotAuthor
	}

	ct := msg.ContentType
	hasAttachments := len(msg.Attachments) > 0
	escaped, err := normalizeContent(content, ct, hasAttachments)
	if err != nil {
		return nil, err
	}

	now := database.Now()
	ok, err := s.messages.Update(ctx, messageID, map[string]any{
		"content":   escaped,
		"is_edited": true,
		"edited_at": now,
	})
	if err != nil {
		return nil, storeError(err)
	}
	if !ok {
		return nil, ErrMessageNotFound
	}

	updated := *msg
	updated.Content = escaped
	updated.IsEdited = true
	updated.EditedAt = &now
	updated.UpdatedAt = now

	publishChange(ctx, s.publisher, feed.ChannelKey(msg.ChannelID), feed.Update, feed.EntityMessage, msg, &updated)
	return &updated, nil
}

// Delete soft-deletes a message; author only. Deleting twice is a no-op.
func (s *MessageService) Delete(ctx context.Context, callerID, messageID uuid.UUID) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return storeError(err)
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if msg.UserID != callerID {
		return ErrNotAuthor
	}
	if msg.IsDeleted {
		return nil
	}

	now := database.Now()
	ok, err := s.messages.Update(ctx, messageID, map[string]any{
		"is_deleted": true,
		"deleted_at": now,
	})
	if err != nil {
		return storeError(err)
	}
	if !ok {
		// deleted concurrently
		return nil
	}

	tombstone := *msg
	tombstone.IsDeleted = true
	tombstone.DeletedAt = &now
	tombstone.UpdatedAt = now

	publishChange(ctx, s.publisher, feed.ChannelKey(msg.ChannelID), feed.Delete, feed.EntityMessage, msg, &tombstone)

	logger.Log.Info("Message deleted",
		zap.String("message_id", messageID.String()),
		zap.String("user_id", callerID.String()),
	)
	return nil
}

// LoadPage returns visible messages of a channel older than before (newest
// page when nil) in ascending order.
func (s *MessageService) LoadPage(ctx context.Context, callerID, channelID uuid.UUID, before *time.Time, limit int) (*Page[models.Message], error) {
	limit, err := pageLimit(before, limit)
	if err != nil {
		return nil, err
	}
	if err := s.channels.CanRead(ctx, callerID, channelID); err != nil {
		return nil, err
	}

	done := metrics.TrackDBOperation("message_page")
	messages, err := s.messages.Page(ctx, channelID, before, limit)
	done()
	if err != nil {
		logger.Log.Error("Failed to load messages",
			zap.String("channel_id", channelID.String()),
			zap.Error(err),
		)
		return nil, storeError(err)
	}

	return &Page[models.Message]{Items: messages, HasMore: len(messages) == limit}, nil
}

// Search finds visible messages containing query, newest first.
func (s *MessageService) Search(ctx context.Context, callerID, channelID uuid.UUID, query string) ([]models.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationError("Search query is required", "نص البحث مطلوب")
	}
	if err := s.channels.CanRead(ctx, callerID, channelID); err != nil {
		return nil, err
	}

	messages, err := s.messages.Search(ctx, channelID, html.EscapeString(query), searchLimit)
	if err != nil {
		return nil, storeError(err)
	}
	return messages, nil
}

// Get returns a visible message the caller may read.
func (s *MessageService) Get(ctx context.Context, callerID, messageID uuid.UUID) (*models.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, storeError(err)
	}
	if msg == nil || msg.IsDeleted {
		return nil, ErrMessageNotFound
	}
	if err := s.channels.CanRead(ctx, callerID, msg.ChannelID); err != nil {
		return nil, err
	}
	return msg, nil
}
