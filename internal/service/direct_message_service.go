package service

import (
	"context"
	"time"

	"github.com/Baaaki/teamchat/internal/conversation"
	"github.com/Baaaki/teamchat/internal/database"
	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DirectMessageService struct {
	dms       *repository.DirectMessageRepository
	users     *repository.UserRepository
	files     *repository.FileRepository
	publisher *Publisher
}

func NewDirectMessageService(dms *repository.DirectMessageRepository, users *repository.UserRepository, files *repository.FileRepository, publisher *Publisher) *DirectMessageService {
	return &DirectMessageService{
		dms:       dms,
		users:     users,
		files:     files,
		publisher: publisher,
	}
}

type SendDirectInput struct {
	FromUserID    uuid.UUID          `json:"-"`
	ToUserID      uuid.UUID          `json:"to_user_id"`
	Content       string             `json:"content"`
	ContentType   models.ContentType `json:"content_type"`
	Metadata      map[string]any     `json:"metadata"`
	ClientID      string             `json:"client_id"`
	AttachmentIDs []uuid.UUID        `json:"attachment_ids"`
}

// Send stores a direct message and publishes it on the pair's stream.
func (s *DirectMessageService) Send(ctx context.Context, in SendDirectInput) (*models.DirectMessage, error) {
	if in.FromUserID == in.ToUserID {
		return nil, ErrSelfMessage
	}
	if in.ContentType == "" {
		in.ContentType = models.ContentText
	}
	content, err := normalizeContent(in.Content, in.ContentType, len(in.AttachmentIDs) > 0)
	if err != nil {
		return nil, err
	}
	if err := validateClientID(in.ClientID); err != nil {
		return nil, err
	}

	recipient, err := s.users.GetByID(ctx, in.ToUserID)
	if err != nil {
		return nil, storeError(err)
	}
	if recipient == nil {
		return nil, ErrUserNotFound
	}
	if !recipient.IsActive {
		return nil, ErrAccountDeactivated
	}

	if in.ClientID != "" {
		existing, err := s.dms.GetByClientID(ctx, in.FromUserID, in.ClientID)
		if err != nil {
			return nil, storeError(err)
		}
		if existing != nil && existing.ToUserID == in.ToUserID {
			return existing, nil
		}
	}

	files, err := s.files.Unlinked(ctx, in.FromUserID, in.AttachmentIDs)
	if err != nil {
		return nil, storeError(err)
	}
	if len(files) != len(in.AttachmentIDs) {
		return nil, validationError("Attachment not found or already used", "المرفق غير موجود أو مستخدم بالفعل")
	}

	dm := &models.DirectMessage{
		FromUserID:  in.FromUserID,
		ToUserID:    in.ToUserID,
		Content:     content,
		ContentType: in.ContentType,
		Metadata:    normalizeMetadata(in.Metadata, files),
		ClientID:    in.ClientID,
	}
	if err := s.dms.Create(ctx, dm, in.AttachmentIDs); err != nil {
		logger.Log.Error("Failed to save direct message",
			zap.String("from_user_id", in.FromUserID.String()),
			zap.String("to_user_id", in.ToUserID.String()),
			zap.Error(err),
		)
		return nil, storeError(err)
	}
	if len(files) > 0 {
		if stored, err := s.dms.GetByID(ctx, dm.ID); err == nil && stored != nil {
			dm = stored
		}
	}

	publishChange(ctx, s.publisher, feed.DirectKey(dm.FromUserID, dm.ToUserID), feed.Insert, feed.EntityDirectMessage, nil, dm)
	return dm, nil
}

func (s *DirectMessageService) ownMessage(ctx context.Context, callerID, id uuid.UUID) (*models.DirectMessage, error) {
	dm, err := s.dms.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if dm == nil || (dm.FromUserID != callerID && dm.ToUserID != callerID) {
		return nil, ErrMessageNotFound
	}
	if dm.FromUserID != callerID {
		return nil, ErrNotAuthor
	}
	return dm, nil
}

// Edit replaces the content of a live message; sender only.
func (s *DirectMessageService) Edit(ctx context.Context, callerID, id uuid.UUID, content string) (*models.DirectMessage, error) {
	dm, err := s.ownMessage(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	if dm.IsDeleted {
		return nil, ErrMessageNotFound
	}

	escaped, err := normalizeContent(content, dm.ContentType, len(dm.Attachments) > 0)
	if err != nil {
		return nil, err
	}

	now := database.Now()
	ok, err := s.dms.Update(ctx, id, map[string]any{"content": escaped, "is_edited": true, "edited_at": now})
	if err != nil {
		return nil, storeError(err)
	}
	if !ok {
		return nil, ErrMessageNotFound
	}

	updated := *dm
	updated.Content = escaped
	updated.IsEdited = true
	updated.EditedAt = &now
	updated.UpdatedAt = now

	publishChange(ctx, s.publisher, feed.DirectKey(dm.FromUserID, dm.ToUserID), feed.Update, feed.EntityDirectMessage, dm, &updated)
	return &updated, nil
}

// Delete soft-deletes a message; sender only, idempotent.
func (s *DirectMessageService) Delete(ctx context.Context, callerID, id uuid.UUID) error {
	dm, err := s.ownMessage(ctx, callerID, id)
	if err != nil {
		return err
	}
	if dm.IsDeleted {
		return nil
	}

	now := database.Now()
	ok, err := s.dms.Update(ctx, id, map[string]any{"is_deleted": true, "deleted_at": now})
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return nil
	}

	tombstone := *dm
	tombstone.IsDeleted = true
	tombstone.DeletedAt = &now
	tombstone.UpdatedAt = now

	publishChange(ctx, s.publisher, feed.DirectKey(dm.FromUserID, dm.ToUserID), feed.Delete, feed.EntityDirectMessage, dm, &tombstone)
	return nil
}

// LoadPage returns visible messages between the caller and peer older than
// before, in ascending order. As a side effect every unread message from peer
// to the caller is marked read; that step is best-effort.
func (s *DirectMessageService) LoadPage(ctx context.Context, callerID, peerID uuid.UUID, before *time.Time, limit int) (*Page[models.DirectMessage], error) {
	if callerID == peerID {
		return nil, ErrSelfMessage
	}
	limit, err := pageLimit(before, limit)
	if err != nil {
		return nil, err
	}

	peer, err := s.users.GetByID(ctx, peerID)
	if err != nil {
		return nil, storeError(err)
	}
	if peer == nil {
		return nil, ErrUserNotFound
	}

	dms, err := s.dms.Page(ctx, callerID, peerID, before, limit)
	if err != nil {
		return nil, storeError(err)
	}

	flipped := s.markConversationRead(ctx, callerID, peerID)
	for i := range dms {
		if at, ok := flipped[dms[i].ID]; ok {
			dms[i].IsRead = true
			dms[i].ReadAt = &at
		}
	}

	return &Page[models.DirectMessage]{Items: dms, HasMore: len(dms) == limit}, nil
}

func (s *DirectMessageService) markConversationRead(ctx context.Context, me, peer uuid.UUID) map[uuid.UUID]time.Time {
	now := database.Now()
	unread, err := s.dms.MarkConversationRead(ctx, me, peer, now)
	if err != nil {
		logger.Log.Warn("Failed to mark conversation read",
			zap.String("user_id", me.String()),
			zap.String("peer_id", peer.String()),
			zap.Error(err),
		)
		return nil
	}

	flipped := make(map[uuid.UUID]time.Time, len(unread))
	key := feed.DirectKey(me, peer)
	for i := range unread {
		old := unread[i]
		read := old
		read.IsRead = true
		read.ReadAt = &now
		flipped[old.ID] = now
		publishChange(ctx, s.publisher, key, feed.Update, feed.EntityDirectMessage, &old, &read)
	}
	return flipped
}

// MarkRead marks one incoming message read; recipient only, idempotent.
func (s *DirectMessageService) MarkRead(ctx context.Context, callerID, id uuid.UUID) error {
	dm, err := s.dms.GetByID(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if dm == nil || dm.IsDeleted || (dm.FromUserID != callerID && dm.ToUserID != callerID) {
		return ErrMessageNotFound
	}
	if dm.ToUserID != callerID {
		return ErrNotRecipient
	}
	if dm.IsRead {
		return nil
	}

	now := database.Now()
	ok, err := s.dms.MarkRead(ctx, id, now)
	if err != nil {
		return storeError(err)
	}
	if ok {
		read := *dm
		read.IsRead = true
		read.ReadAt = &now
		publishChange(ctx, s.publisher, feed.DirectKey(dm.FromUserID, dm.ToUserID), feed.Update, feed.EntityDirectMessage, dm, &read)
	}
	return nil
}

// Conversations lists the caller's conversations with active peers.
func (s *DirectMessageService) Conversations(ctx context.Context, callerID uuid.UUID) ([]conversation.Conversation, error) {
	dms, err := s.dms.ListForUser(ctx, callerID)
	if err != nil {
		return nil, storeError(err)
	}

	peerIDs := make([]uuid.UUID, 0)
	seen := make(map[uuid.UUID]bool)
	for i := range dms {
		p := dms[i].Peer(callerID)
		if !seen[p] {
			seen[p] = true
			peerIDs = append(peerIDs, p)
		}
	}
	peers, err := s.users.GetByIDs(ctx, peerIDs)
	if err != nil {
		return nil, storeError(err)
	}

	visible := dms[:0]
	for _, dm := range dms {
		if peer := peers[dm.Peer(callerID)]; peer != nil && peer.IsActive {
			visible = append(visible, dm)
		}
	}

	convs := conversation.Aggregate(callerID, visible)
	for i := range convs {
		convs[i].Peer = peers[convs[i].PeerID]
	}
	return convs, nil
}

// TotalUnread counts unread visible messages addressed to the caller.
func (s *DirectMessageService) TotalUnread(ctx context.Context, callerID uuid.UUID) (int64, error) {
	n, err := s.dms.UnreadCount(ctx, callerID)
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}
