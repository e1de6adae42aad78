package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/Baaaki/teamchat/internal/broker"
	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	fanoutDedupeTTL = 24 * time.Hour
	previewLength   = 100
)

// ViewTracker reports whether a user currently has the stream open.
type ViewTracker interface {
	IsViewing(ctx context.Context, userID uuid.UUID, key feed.StreamKey) bool
}

// Fanout derives notifications from message inserts on the change feed.
// Each event id is handled once across replays and nodes.
type Fanout struct {
	broker        broker.Broker
	notifications *NotificationService
	channels      *repository.ChannelRepository
	members       *repository.MemberRepository
	users         *repository.UserRepository
	redis         *redis.Client
	viewers       ViewTracker
}

func NewFanout(b broker.Broker, notifications *NotificationService, channels *repository.ChannelRepository, members *repository.MemberRepository, users *repository.UserRepository, rdb *redis.Client, viewers ViewTracker) *Fanout {
	return &Fanout{
		broker:        b,
		notifications: notifications,
		channels:      channels,
		members:       members,
		users:         users,
		redis:         rdb,
		viewers:       viewers,
	}
}

// Run consumes channel and direct message streams until ctx is done.
func (f *Fanout) Run(ctx context.Context) error {
	events, err := f.broker.Subscribe(ctx, string(feed.StreamMessages)+":*", string(feed.StreamDirect)+":*")
	if err != nil {
		return fmt.Errorf("subscribe fan-out: %w", err)
	}

	logger.Log.Info("Notification fan-out started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := f.Handle(ctx, ev); err != nil {
				logger.Log.Error("Fan-out failed",
					zap.String("event_id", ev.ID),
					zap.String("stream", string(ev.Stream)),
					zap.Error(err),
				)
			}
		}
	}
}

// Handle processes one feed event. Only inserts produce notifications. A
// failed event gives its claim back so a redelivery can handle it.
func (f *Fanout) Handle(ctx context.Context, ev feed.Event) error {
	if ev.Kind != feed.Insert {
		return nil
	}

	var handle func() error
	switch ev.Entity {
	case feed.EntityMessage:
		change, err := feed.Decode[models.Message](ev)
		if err != nil {
			return err
		}
		if change.New.ContentType == models.ContentSystem {
			return nil
		}
		handle = func() error { return f.channelMessage(ctx, change.New) }

	case feed.EntityDirectMessage:
		change, err := feed.Decode[models.DirectMessage](ev)
		if err != nil {
			return err
		}
		handle = func() error { return f.directMessage(ctx, change.New) }

	default:
		return nil
	}

	if !f.claim(ctx, ev.ID) {
		return nil
	}
	if err := handle(); err != nil {
		f.release(ctx, ev.ID)
		return err
	}
	return nil
}

func claimKey(eventID string) string { return "fanout:" + eventID }

// claim returns false when another consumer already handled eventID. Without
// redis every event is handled.
func (f *Fanout) claim(ctx context.Context, eventID string) bool {
	if f.redis == nil {
		return true
	}
	ok, err := f.redis.SetNX(ctx, claimKey(eventID), 1, fanoutDedupeTTL).Result()
	if err != nil {
		logger.Log.Warn("Fan-out dedupe unavailable", zap.String("event_id", eventID), zap.Error(err))
		return true
	}
	return ok
}

func (f *Fanout) release(ctx context.Context, eventID string) {
	if f.redis == nil {
		return
	}
	if err := f.redis.Del(context.WithoutCancel(ctx), claimKey(eventID)).Err(); err != nil {
		logger.Log.Warn("Failed to release fan-out claim", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (f *Fanout) viewing(ctx context.Context, userID uuid.UUID, key feed.StreamKey) bool {
	return f.viewers != nil && f.viewers.IsViewing(ctx, userID, key)
}

func (f *Fanout) channelMessage(ctx context.Context, msg *models.Message) error {
	channel, err := f.channels.GetByID(ctx, msg.ChannelID)
	if err != nil {
		return err
	}
	if channel == nil {
		return nil
	}

	recipients, err := f.members.NotifiableUserIDs(ctx, msg.ChannelID)
	if err != nil {
		return err
	}

	author := msg.Author
	if author == nil {
		if author, err = f.users.GetByID(ctx, msg.UserID); err != nil {
			return err
		}
	}
	if author == nil {
		author = &models.User{ID: msg.UserID}
	}

	mentioned := make(map[uuid.UUID]bool)
	for _, id := range msg.Mentions() {
		mentioned[id] = true
	}

	key := feed.ChannelKey(msg.ChannelID)
	meta := map[string]any{
		"channel_id": msg.ChannelID.String(),
		"message_id": msg.ID.String(),
		"sender_id":  msg.UserID.String(),
	}

	batch := make([]models.Notification, 0, len(recipients))
	for _, userID := range recipients {
		if userID == msg.UserID || f.viewing(ctx, userID, key) {
			continue
		}

		n := models.Notification{
			UserID:    userID,
			Content:   preview(author.DisplayName, msg.Content),
			ContentAr: preview(author.Name(models.LocaleArabic), msg.Content),
			Metadata:  cloneMetadata(meta),
		}
		switch {
		case channel.Type == models.ChannelAnnouncement:
			n.Type = models.NotificationAnnouncement
			n.Title = fmt.Sprintf("Announcement in #%s", channel.Name)
			n.TitleAr = fmt.Sprintf("إعلان في #%s", arabicName(channel))
		case mentioned[userID]:
			n.Type = models.NotificationMention
			n.Title = fmt.Sprintf("%s mentioned you in #%s", author.DisplayName, channel.Name)
			n.TitleAr = fmt.Sprintf("%s قام بالإشارة إليك في #%s", author.Name(models.LocaleArabic), arabicName(channel))
		default:
			n.Type = models.NotificationMessage
			n.Title = fmt.Sprintf("New message in #%s", channel.Name)
			n.TitleAr = fmt.Sprintf("رسالة جديدة في #%s", arabicName(channel))
		}
		batch = append(batch, n)
	}

	if len(batch) == 0 {
		return nil
	}
	logger.Log.Debug("Fan-out channel message",
		zap.String("message_id", msg.ID.String()),
		zap.Int("recipients", len(batch)),
	)
	return f.notifications.CreateBatch(ctx, batch)
}

func (f *Fanout) directMessage(ctx context.Context, dm *models.DirectMessage) error {
	if f.viewing(ctx, dm.ToUserID, feed.DirectKey(dm.FromUserID, dm.ToUserID)) {
		return nil
	}

	users, err := f.users.GetByIDs(ctx, []uuid.UUID{dm.FromUserID, dm.ToUserID})
	if err != nil {
		return err
	}
	recipient := users[dm.ToUserID]
	if recipient == nil || !recipient.IsActive {
		return nil
	}
	sender := users[dm.FromUserID]
	if sender == nil {
		sender = &models.User{ID: dm.FromUserID}
	}

	n := models.Notification{
		UserID:    dm.ToUserID,
		Type:      models.NotificationMessage,
		Title:     fmt.Sprintf("New message from %s", sender.DisplayName),
		TitleAr:   fmt.Sprintf("رسالة جديدة من %s", sender.Name(models.LocaleArabic)),
		Content:   preview(sender.DisplayName, dm.Content),
		ContentAr: preview(sender.Name(models.LocaleArabic), dm.Content),
		Metadata: map[string]any{
			"direct_message_id": dm.ID.String(),
			"sender_id":         dm.FromUserID.String(),
		},
	}
	return f.notifications.CreateBatch(ctx, []models.Notification{n})
}

func arabicName(c *models.Channel) string {
	if c.NameAr != "" {
		return c.NameAr
	}
	return c.Name
}

// preview renders "sender: content" cut to previewLength runes.
func preview(sender, content string) string {
	text := strings.TrimSpace(html.UnescapeString(content))
	if sender != "" {
		text = sender + ": " + text
	}
	r := []rune(text)
	if len(r) > previewLength {
		return string(r[:previewLength-1]) + "…"
	}
	return text
}
