package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Baaaki/teamchat/internal/database"
	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxChannelNameLength = 100

// channelTypeOrder is the listing order after default channels.
var channelTypeOrder = map[models.ChannelType]int{
	models.ChannelAnnouncement: 0,
	models.ChannelPublic:       1,
	models.ChannelPrivate:      2,
	models.ChannelDepartment:   3,
}

type ChannelService struct {
	channels *repository.ChannelRepository
	members  *repository.MemberRepository
	users    *repository.UserRepository

	publisher *Publisher
}

func NewChannelService(channels *repository.ChannelRepository, members *repository.MemberRepository, users *repository.UserRepository) *ChannelService {
	return &ChannelService{
		channels: channels,
		members:  members,
		users:    users,
	}
}

// WithPublisher announces membership removals on the channel stream so that
// realtime hubs can drop subscriptions the member may no longer hold.
func (s *ChannelService) WithPublisher(p *Publisher) *ChannelService {
	s.publisher = p
	return s
}

type CreateChannelInput struct {
	Name          string             `json:"name"`
	NameAr        string             `json:"name_ar"`
	Description   string             `json:"description"`
	DescriptionAr string             `json:"description_ar"`
	Type          models.ChannelType `json:"type"`
	Department    string             `json:"department"`
	Icon          string             `json:"icon"`
	Color         string             `json:"color"`
	IsDefault     bool               `json:"is_default"`
}

// UpdateChannelInput is a partial update; nil fields are left unchanged.
type UpdateChannelInput struct {
	Name          *string `json:"name"`
	NameAr        *string `json:"name_ar"`
	Description   *string `json:"description"`
	DescriptionAr *string `json:"description_ar"`
	Icon          *string `json:"icon"`
	Color         *string `json:"color"`
}

// ChannelView is a channel as seen by one user.
type ChannelView struct {
	models.Channel
	IsMember    bool               `json:"is_member"`
	MemberRole  *models.MemberRole `json:"member_role,omitempty"`
	LastReadAt  *time.Time         `json:"last_read_at,omitempty"`
	UnreadCount int                `json:"unread_count"`
}

func validateChannelName(name, nameAr string) error {
	if name == "" || nameAr == "" {
		return validationError("Channel name is required in both languages", "اسم القناة مطلوب باللغتين")
	}
	if utf8.RuneCountInString(name) > maxChannelNameLength || utf8.RuneCountInString(nameAr) > maxChannelNameLength {
		return validationError("Channel name is too long", "اسم القناة طويل جداً")
	}
	return nil
}

// Create makes a channel and its creator's owner membership atomically.
func (s *ChannelService) Create(ctx context.Context, creatorID uuid.UUID, in CreateChannelInput) (*models.Channel, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.NameAr = strings.TrimSpace(in.NameAr)
	if in.Type == "" {
		in.Type = models.ChannelPublic
	}

	if err := validateChannelName(in.Name, in.NameAr); err != nil {
		return nil, err
	}
	if !in.Type.Valid() {
		return nil, validationError("Unknown channel type", "نوع القناة غير معروف")
	}
	if in.Type == models.ChannelDepartment && strings.TrimSpace(in.Department) == "" {
		return nil, validationError("Department channels need a department", "قنوات الأقسام تتطلب تحديد القسم")
	}

	creator, err := s.activeUser(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if in.IsDefault && creator.Role != models.RoleAdmin {
		return nil, ErrAccessDenied
	}

	channel := &models.Channel{
		Name:          in.Name,
		NameAr:        in.NameAr,
		Description:   strings.TrimSpace(in.Description),
		DescriptionAr: strings.TrimSpace(in.DescriptionAr),
		Type:          in.Type,
		Department:    strings.TrimSpace(in.Department),
		Icon:          in.Icon,
		Color:         in.Color,
		IsDefault:     in.IsDefault,
		CreatedBy:     &creatorID,
	}
	owner := &models.ChannelMember{
		UserID:               creatorID,
		Role:                 models.MemberOwner,
		JoinedAt:             database.Now(),
		NotificationsEnabled: true,
	}

	if err := s.channels.CreateWithOwner(ctx, channel, owner); err != nil {
		logger.Log.Error("Failed to create channel",
			zap.String("name", in.Name),
			zap.String("creator_id", creatorID.String()),
			zap.Error(err),
		)
		return nil, storeError(err)
	}

	logger.Log.Info("Channel created",
		zap.String("channel_id", channel.ID.String()),
		zap.String("type", string(channel.Type)),
		zap.String("creator_id", creatorID.String()),
	)
	return channel, nil
}

// Get returns a channel the user may read.
func (s *ChannelService) Get(ctx context.Context, userID, channelID uuid.UUID) (*ChannelView, error) {
	channel, member, err := s.readAccess(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}
	view := &ChannelView{Channel: *channel}
	if member != nil {
		view.IsMember = true
		view.MemberRole = &member.Role
		view.LastReadAt = member.LastReadAt
	}
	return view, nil
}

// CanRead reports whether userID may read channelID: members always, anyone
// for public and announcement channels.
func (s *ChannelService) CanRead(ctx context.Context, userID, channelID uuid.UUID) error {
	_, _, err := s.readAccess(ctx, userID, channelID)
	return err
}

func (s *ChannelService) readAccess(ctx context.Context, userID, channelID uuid.UUID) (*models.Channel, *models.ChannelMember, error) {
	channel, err := s.channel(ctx, channelID)
	if err != nil {
		return nil, nil, err
	}
	member, err := s.members.Get(ctx, channelID, userID)
	if err != nil {
		return nil, nil, storeError(err)
	}
	if member == nil && !channel.Type.OpenToRead() {
		return nil, nil, ErrNotMember
	}
	return channel, member, nil
}

// RequireMember returns the channel and membership needed to post.
func (s *ChannelService) RequireMember(ctx context.Context, userID, channelID uuid.UUID) (*models.Channel, *models.ChannelMember, error) {
	channel, err := s.channel(ctx, channelID)
	if err != nil {
		return nil, nil, err
	}
	member, err := s.members.Get(ctx, channelID, userID)
	if err != nil {
		return nil, nil, storeError(err)
	}
	if member == nil {
		return nil, nil, ErrNotMember
	}
	return channel, member, nil
}

// ListForUser returns joined channels with unread counts followed by open
// channels the user has not joined, sorted for display.
func (s *ChannelService) ListForUser(ctx context.Context, userID uuid.UUID) ([]ChannelView, error) {
	memberships, err := s.members.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}

	byChannel := make(map[uuid.UUID]models.ChannelMember, len(memberships))
	ids := make([]uuid.UUID, 0, len(memberships))
	for _, m := range memberships {
		byChannel[m.ChannelID] = m
		ids = append(ids, m.ChannelID)
	}

	joined, err := s.channels.GetByIDs(ctx, ids)
	if err != nil {
		return nil, storeError(err)
	}
	open, err := s.channels.ListOpen(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	unread, err := s.members.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}

	views := make([]ChannelView, 0, len(joined)+len(open))
	for _, ch := range joined {
		if ch.IsArchived {
			continue
		}
		m := byChannel[ch.ID]
		role := m.Role
		views = append(views, ChannelView{
			Channel:     ch,
			IsMember:    true,
			MemberRole:  &role,
			LastReadAt:  m.LastReadAt,
			UnreadCount: unread[ch.ID],
		})
	}
	for _, ch := range open {
		if _, ok := byChannel[ch.ID]; ok {
			continue
		}
		views = append(views, ChannelView{Channel: ch})
	}

	SortChannels(views)
	return views, nil
}

// SortChannels orders default channels first, then by type
// (announcement, public, private, department), then by name.
func SortChannels(views []ChannelView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		if oa, ob := channelTypeOrder[a.Type], channelTypeOrder[b.Type]; oa != ob {
			return oa < ob
		}
		return a.Name < b.Name
	})
}

// Join adds the user as a member. Joining twice is a no-op that returns the
// existing membership.
func (s *ChannelService) Join(ctx context.Context, userID, channelID uuid.UUID) (*models.ChannelMember, error) {
	channel, err := s.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel.IsArchived {
		return nil, ErrChannelArchived
	}

	existing, err := s.members.Get(ctx, channelID, userID)
	if err != nil {
		return nil, storeError(err)
	}
	if existing != nil {
		return existing, nil
	}

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch channel.Type {
	case models.ChannelPrivate:
		return nil, ErrPrivateChannel
	case models.ChannelDepartment:
		if !strings.EqualFold(user.Department, channel.Department) {
			return nil, ErrDepartmentOnly
		}
	}

	return s.insertMember(ctx, channelID, userID, models.MemberMember)
}

func (s *ChannelService) insertMember(ctx context.Context, channelID, userID uuid.UUID, role models.MemberRole) (*models.ChannelMember, error) {
	member := &models.ChannelMember{
		ChannelID:            channelID,
		UserID:               userID,
		Role:                 role,
		JoinedAt:             database.Now(),
		NotificationsEnabled: true,
	}
	inserted, err := s.members.InsertIfAbsent(ctx, member)
	if err != nil {
		return nil, storeError(err)
	}
	if !inserted {
		// lost a race with a concurrent join; return the winner
		existing, err := s.members.Get(ctx, channelID, userID)
		if err != nil {
			return nil, storeError(err)
		}
		return existing, nil
	}

	logger.Log.Info("Member joined channel",
		zap.String("channel_id", channelID.String()),
		zap.String("user_id", userID.String()),
		zap.String("role", string(role)),
	)
	return member, nil
}

// Leave removes the caller's membership. Leaving a channel twice is a no-op.
func (s *ChannelService) Leave(ctx context.Context, userID, channelID uuid.UUID) error {
	if _, err := s.channel(ctx, channelID); err != nil {
		return err
	}
	member, err := s.members.Get(ctx, channelID, userID)
	if err != nil {
		return storeError(err)
	}
	if member == nil {
		return nil
	}
	return s.removeMember(ctx, member)
}

// AddMember lets an owner or admin add someone; only owners may grant elevated roles.
func (s *ChannelService) AddMember(ctx context.Context, actorID, channelID, targetID uuid.UUID, role models.MemberRole) (*models.ChannelMember, error) {
	if role == "" {
		role = models.MemberMember
	}
	if !role.Valid() {
		return nil, validationError("Unknown member role", "دور العضو غير معروف")
	}

	channel, actor, err := s.moderator(ctx, actorID, channelID)
	if err != nil {
		return nil, err
	}
	if channel.IsArchived {
		return nil, ErrChannelArchived
	}
	if role != models.MemberMember && actor.Role != models.MemberOwner {
		return nil, ErrNotOwner
	}
	if _, err := s.activeUser(ctx, targetID); err != nil {
		return nil, err
	}

	member := &models.ChannelMember{
		ChannelID:            channelID,
		UserID:               targetID,
		Role:                 role,
		JoinedAt:             database.Now(),
		NotificationsEnabled: true,
	}
	inserted, err := s.members.InsertIfAbsent(ctx, member)
	if err != nil {
		return nil, storeError(err)
	}
	if !inserted {
		return nil, ErrAlreadyMember
	}
	return member, nil
}

// RemoveMember lets an owner or admin remove a member. Owners cannot be removed.
func (s *ChannelService) RemoveMember(ctx context.Context, actorID, channelID, targetID uuid.UUID) error {
	if _, _, err := s.moderator(ctx, actorID, channelID); err != nil {
		return err
	}
	target, err := s.members.Get(ctx, channelID, targetID)
	if err != nil {
		return storeError(err)
	}
	if target == nil {
		return ErrUserNotFound
	}
	if target.Role == models.MemberOwner && targetID != actorID {
		return ErrNotOwner
	}
	return s.removeMember(ctx, target)
}

func (s *ChannelService) removeMember(ctx context.Context, member *models.ChannelMember) error {
	deleted, err := s.members.Delete(ctx, member.ChannelID, member.UserID)
	if err != nil {
		return storeError(err)
	}
	if deleted {
		publishChange[models.ChannelMember](ctx, s.publisher, feed.ChannelKey(member.ChannelID), feed.Delete, feed.EntityMembership, member, nil)
	}
	return nil
}

// UpdateRole changes a member's role; owners only. The last owner cannot be demoted.
func (s *ChannelService) UpdateRole(ctx context.Context, actorID, channelID, targetID uuid.UUID, role models.MemberRole) error {
	if !role.Valid() {
		return validationError("Unknown member role", "دور العضو غير معروف")
	}
	_, actor, err := s.RequireMember(ctx, actorID, channelID)
	if err != nil {
		return err
	}
	if actor.Role != models.MemberOwner {
		return ErrNotOwner
	}

	target, err := s.members.Get(ctx, channelID, targetID)
	if err != nil {
		return storeError(err)
	}
	if target == nil {
		return ErrUserNotFound
	}
	if target.Role == models.MemberOwner && role != models.MemberOwner {
		owners, err := s.members.CountByRole(ctx, channelID, models.MemberOwner)
		if err != nil {
			return storeError(err)
		}
		if owners <= 1 {
			return ErrLastOwner
		}
	}

	ok, err := s.members.Update(ctx, channelID, targetID, map[string]any{"role": role})
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

// Update edits channel details; owners and admins only.
func (s *ChannelService) Update(ctx context.Context, actorID, channelID uuid.UUID, in UpdateChannelInput) (*models.Channel, error) {
	channel, _, err := s.moderator(ctx, actorID, channelID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	name, nameAr := channel.Name, channel.NameAr
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
		fields["name"] = name
	}
	if in.NameAr != nil {
		nameAr = strings.TrimSpace(*in.NameAr)
		fields["name_ar"] = nameAr
	}
	if err := validateChannelName(name, nameAr); err != nil {
		return nil, err
	}
	if in.Description != nil {
		fields["description"] = strings.TrimSpace(*in.Description)
	}
	if in.DescriptionAr != nil {
		fields["description_ar"] = strings.TrimSpace(*in.DescriptionAr)
	}
	if in.Icon != nil {
		fields["icon"] = *in.Icon
	}
	if in.Color != nil {
		fields["color"] = *in.Color
	}
	if len(fields) == 0 {
		return channel, nil
	}

	if err := s.channels.Update(ctx, channelID, fields); err != nil {
		return nil, storeError(err)
	}
	return s.channel(ctx, channelID)
}

// Archive hides the channel and stops new writes. Channel owners, channel
// admins and global admins may archive.
func (s *ChannelService) Archive(ctx context.Context, actorID, channelID uuid.UUID) error {
	channel, err := s.channel(ctx, channelID)
	if err != nil {
		return err
	}

	actor, err := s.activeUser(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.Role != models.RoleAdmin {
		member, err := s.members.Get(ctx, channelID, actorID)
		if err != nil {
			return storeError(err)
		}
		if member == nil || !member.Role.CanModerate() {
			return ErrNotModerator
		}
	}
	if channel.IsArchived {
		return nil
	}

	if err := s.channels.Update(ctx, channelID, map[string]any{"is_archived": true}); err != nil {
		return storeError(err)
	}
	logger.Log.Info("Channel archived",
		zap.String("channel_id", channelID.String()),
		zap.String("actor_id", actorID.String()),
	)
	return nil
}

// Members lists members with profiles for anyone who may read the channel.
func (s *ChannelService) Members(ctx context.Context, userID, channelID uuid.UUID) ([]models.ChannelMember, error) {
	if err := s.CanRead(ctx, userID, channelID); err != nil {
		return nil, err
	}
	members, err := s.members.ListByChannel(ctx, channelID)
	if err != nil {
		return nil, storeError(err)
	}
	return members, nil
}

// MarkRead moves the caller's read mark to now.
func (s *ChannelService) MarkRead(ctx context.Context, userID, channelID uuid.UUID) error {
	ok, err := s.members.MarkRead(ctx, channelID, userID, database.Now())
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func (s *ChannelService) SetNotifications(ctx context.Context, userID, channelID uuid.UUID, enabled bool) error {
	ok, err := s.members.Update(ctx, channelID, userID, map[string]any{"notifications_enabled": enabled})
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// JoinDefaults adds the user to every default channel.
func (s *ChannelService) JoinDefaults(ctx context.Context, userID uuid.UUID) error {
	defaults, err := s.channels.ListDefault(ctx)
	if err != nil {
		return storeError(err)
	}
	for _, ch := range defaults {
		if _, err := s.insertMember(ctx, ch.ID, userID, models.MemberMember); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChannelService) channel(ctx context.Context, channelID uuid.UUID) (*models.Channel, error) {
	channel, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, storeError(err)
	}
	if channel == nil {
		return nil, ErrChannelNotFound
	}
	return channel, nil
}

func (s *ChannelService) moderator(ctx context.Context, actorID, channelID uuid.UUID) (*models.Channel, *models.ChannelMember, error) {
	channel, member, err := s.RequireMember(ctx, actorID, channelID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			return nil, nil, ErrNotModerator
		}
		return nil, nil, err
	}
	if !member.Role.CanModerate() {
		return nil, nil, ErrNotModerator
	}
	return channel, member, nil
}

func (s *ChannelService) activeUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}
	return user, nil
}
