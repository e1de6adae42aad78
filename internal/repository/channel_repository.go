package repository

import (
	"context"
	"time"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChannelRepository struct {
	db *gorm.DB
}

func NewChannelRepository(db *gorm.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// CreateWithOwner inserts the channel and the owner's membership atomically.
func (r *ChannelRepository) CreateWithOwner(ctx context.Context, channel *models.Channel, owner *models.ChannelMember) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(channel).Error; err != nil {
			return err
		}
		owner.ChannelID = channel.ID
		return tx.Omit(clause.Associations).Create(owner).Error
	})
}

// Create inserts a channel without members (seeded defaults).
func (r *ChannelRepository) Create(ctx context.Context, channel *models.Channel) error {
	return r.db.WithContext(ctx).Create(channel).Error
}

func (r *ChannelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	return first[models.Channel](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *ChannelRepository) GetByName(ctx context.Context, name string) (*models.Channel, error) {
	return first[models.Channel](r.db.WithContext(ctx).Where("name = ?", name))
}

func (r *ChannelRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Channel, error) {
	var channels []models.Channel
	if len(ids) == 0 {
		return channels, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&channels).Error
	return channels, err
}

// ListOpen returns non-archived channels anyone may read.
func (r *ChannelRepository) ListOpen(ctx context.Context) ([]models.Channel, error) {
	var channels []models.Channel
	err := r.db.WithContext(ctx).
		Where("is_archived = ? AND type IN ?", false, []models.ChannelType{models.ChannelPublic, models.ChannelAnnouncement}).
		Find(&channels).Error
	return channels, err
}

// ListDefault returns the non-archived channels every new user joins.
func (r *ChannelRepository) ListDefault(ctx context.Context) ([]models.Channel, error) {
	var channels []models.Channel
	err := r.db.WithContext(ctx).
		Where("is_default = ? AND is_archived = ?", true, false).
		Find(&channels).Error
	return channels, err
}

func (r *ChannelRepository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.Channel{}).Where("id = ?", id).Updates(fields).Error
}

type MemberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) Get(ctx context.Context, channelID, userID uuid.UUID) (*models.ChannelMember, error) {
	return first[models.ChannelMember](r.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID))
}

// InsertIfAbsent adds the membership unless the user is already a member.
// Concurrent calls for the same pair leave exactly one row.
func (r *MemberRepository) InsertIfAbsent(ctx context.Context, m *models.ChannelMember) (bool, error) {
	return insertIgnore(r.db.WithContext(ctx), m, "channel_id", "user_id")
}

func (r *MemberRepository) Delete(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Delete(&models.ChannelMember{})
	return res.RowsAffected > 0, res.Error
}

// ListByChannel returns members with their profiles, oldest first.
func (r *MemberRepository) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]models.ChannelMember, error) {
	var members []models.ChannelMember
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("channel_id = ?", channelID).
		Order("joined_at ASC").
		Find(&members).Error
	return members, err
}

func (r *MemberRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.ChannelMember, error) {
	var members []models.ChannelMember
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&members).Error
	return members, err
}

// NotifiableUserIDs returns members that keep notifications enabled.
func (r *MemberRepository) NotifiableUserIDs(ctx context.Context, channelID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.ChannelMember{}).
		Where("channel_id = ? AND notifications_enabled = ?", channelID, true).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *MemberRepository) Update(ctx context.Context, channelID, userID uuid.UUID, fields map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ChannelMember{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Updates(fields)
	return res.RowsAffected > 0, res.Error
}

// CountByRole counts the channel's members holding role.
func (r *MemberRepository) CountByRole(ctx context.Context, channelID uuid.UUID, role models.MemberRole) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ChannelMember{}).
		Where("channel_id = ? AND role = ?", channelID, role).
		Count(&n).Error
	return n, err
}

func (r *MemberRepository) MarkRead(ctx context.Context, channelID, userID uuid.UUID, at time.Time) (bool, error) {
	return r.Update(ctx, channelID, userID, map[string]any{"last_read_at": at})
}

type unreadRow struct {
	ChannelID uuid.UUID
	Unread    int
}

// UnreadCounts counts, per joined channel, visible messages from others newer
// than the member's last read mark.
func (r *MemberRepository) UnreadCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error) {
	var rows []unreadRow
	err := r.db.WithContext(ctx).
		Table("channel_members AS cm").
		Select("cm.channel_id AS channel_id, COUNT(m.id) AS unread").
		Joins("JOIN messages AS m ON m.channel_id = cm.channel_id AND m.is_deleted = ? AND m.user_id <> cm.user_id AND (cm.last_read_at IS NULL OR m.created_at > cm.last_read_at)", false).
		Where("cm.user_id = ?", userID).
		Group("cm.channel_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		out[row.ChannelID] = row.Unread
	}
	return out, nil
}
