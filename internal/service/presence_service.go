package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Baaaki/teamchat/internal/database"
	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultStaleAfter        = 5 * time.Minute
	DefaultHeartbeatInterval = time.Minute
	maxStatusMessageLength   = 200
)

// PresenceService tracks the online/away/busy/offline status of users.
// A stored status older than staleAfter resolves to offline.
type PresenceService struct {
	presence          *repository.PresenceRepository
	users             *repository.UserRepository
	redis             *redis.Client
	publisher         *Publisher
	staleAfter        time.Duration
	heartbeatInterval time.Duration
}

func NewPresenceService(presence *repository.PresenceRepository, users *repository.UserRepository, rdb *redis.Client, publisher *Publisher, staleAfter, heartbeatInterval time.Duration) *PresenceService {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &PresenceService{
		presence:          presence,
		users:             users,
		redis:             rdb,
		publisher:         publisher,
		staleAfter:        staleAfter,
		heartbeatInterval: heartbeatInterval,
	}
}

// UserStatus is a presence row with its resolved status.
type UserStatus struct {
	UserID          uuid.UUID             `json:"user_id"`
	Status          models.PresenceStatus `json:"status"`
	LastSeen        *time.Time            `json:"last_seen,omitempty"`
	StatusMessage   string                `json:"status_message,omitempty"`
	StatusMessageAr string                `json:"status_message_ar,omitempty"`
}

// Resolve returns the effective status of p at now.
func (s *PresenceService) Resolve(p *models.UserPresence, now time.Time) models.PresenceStatus {
	return ResolveStatus(p, now, s.staleAfter)
}

// ResolveStatus is offline for a missing row or one not seen within staleAfter,
// otherwise the stored status.
func ResolveStatus(p *models.UserPresence, now time.Time, staleAfter time.Duration) models.PresenceStatus {
	if p == nil || now.Sub(p.LastSeen) > staleAfter {
		return models.StatusOffline
	}
	return p.Status
}

func (s *PresenceService) view(userID uuid.UUID, p *models.UserPresence, now time.Time) UserStatus {
	st := UserStatus{UserID: userID, Status: s.Resolve(p, now)}
	if p != nil {
		seen := p.LastSeen
		st.LastSeen = &seen
		if st.Status != models.StatusOffline {
			st.StatusMessage = p.StatusMessage
			st.StatusMessageAr = p.StatusMessageAr
		}
	}
	return st
}

type SetStatusInput struct {
	Status          models.PresenceStatus `json:"status"`
	StatusMessage   string                `json:"status_message"`
	StatusMessageAr string                `json:"status_message_ar"`
}

// SetStatus upserts the durable row and announces it on the presence stream.
// Both writes are attempted even when the other fails; the joined error is
// returned for callers that want to retry.
func (s *PresenceService) SetStatus(ctx context.Context, userID uuid.UUID, in SetStatusInput) (*models.UserPresence, error) {
	if !in.Status.Valid() {
		return nil, validationError("Invalid status", "حالة غير صالحة")
	}
	if len([]rune(in.StatusMessage)) > maxStatusMessageLength || len([]rune(in.StatusMessageAr)) > maxStatusMessageLength {
		return nil, validationError(
			fmt.Sprintf("Status message cannot exceed %d characters", maxStatusMessageLength),
			fmt.Sprintf("لا يمكن أن تتجاوز رسالة الحالة %d حرفاً", maxStatusMessageLength),
		)
	}

	now := database.Now()
	p := &models.UserPresence{
		UserID:          userID,
		Status:          in.Status,
		LastSeen:        now,
		StatusMessage:   in.StatusMessage,
		StatusMessageAr: in.StatusMessageAr,
		UpdatedAt:       now,
	}

	var storeErr, publishErr error
	if err := s.presence.Upsert(ctx, p); err != nil {
		logger.Log.Warn("Failed to store presence",
			zap.String("user_id", userID.String()),
			zap.String("status", string(in.Status)),
			zap.Error(err),
		)
		storeErr = storeError(err)
	}

	if s.publisher != nil {
		ev, err := feed.NewEvent[models.UserPresence](feed.PresenceKey, feed.Update, feed.EntityPresence, nil, p)
		if err == nil {
			err = s.publisher.Publish(ctx, ev)
		}
		if err != nil {
			logger.Log.Warn("Failed to announce presence",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
			publishErr = storeError(err)
		}
	}

	if storeErr == nil && publishErr == nil {
		s.markBeat(ctx, userID)
	}
	return p, errors.Join(storeErr, publishErr)
}

// Heartbeat refreshes last_seen, at most once per heartbeat interval per user.
// A user without a row is marked online. Failures are logged only.
func (s *PresenceService) Heartbeat(ctx context.Context, userID uuid.UUID) {
	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, heartbeatKey(userID), 1, s.heartbeatInterval).Result()
		if err == nil && !ok {
			return
		}
		if err != nil {
			logger.Log.Debug("Heartbeat throttle unavailable", zap.Error(err))
		}
	}

	touched, err := s.presence.Touch(ctx, userID, database.Now())
	if err != nil {
		logger.Log.Warn("Failed to refresh presence", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	if !touched {
		if _, err := s.SetStatus(ctx, userID, SetStatusInput{Status: models.StatusOnline}); err != nil {
			logger.Log.Warn("Failed to create presence", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
}

func (s *PresenceService) markBeat(ctx context.Context, userID uuid.UUID) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, heartbeatKey(userID), 1, s.heartbeatInterval).Err(); err != nil {
		logger.Log.Debug("Heartbeat throttle unavailable", zap.Error(err))
	}
}

func heartbeatKey(userID uuid.UUID) string {
	return "presence:heartbeat:" + userID.String()
}

// Connect marks the user online when a realtime session opens.
func (s *PresenceService) Connect(ctx context.Context, userID uuid.UUID) {
	if _, err := s.SetStatus(ctx, userID, SetStatusInput{Status: models.StatusOnline}); err != nil {
		logger.Log.Warn("Failed to mark user online", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// Offline is the best-effort beacon sent on page unload or when the last
// session of a user closes. It never fails.
func (s *PresenceService) Offline(ctx context.Context, userID uuid.UUID) {
	if _, err := s.SetStatus(ctx, userID, SetStatusInput{Status: models.StatusOffline}); err != nil {
		logger.Log.Debug("Offline beacon dropped", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// GetUserStatus returns the resolved status of one user.
func (s *PresenceService) GetUserStatus(ctx context.Context, userID uuid.UUID) (UserStatus, error) {
	p, err := s.presence.Get(ctx, userID)
	if err != nil {
		return UserStatus{}, storeError(err)
	}
	return s.view(userID, p, database.Now()), nil
}

// GetOnlineCount counts users whose resolved status is online.
func (s *PresenceService) GetOnlineCount(ctx context.Context) (int64, error) {
	n, err := s.presence.CountOnline(ctx, database.Now().Add(-s.staleAfter))
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}

// List returns every active user with their resolved status.
func (s *PresenceService) List(ctx context.Context) ([]UserStatus, error) {
	ids, err := s.users.ActiveIDs(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	rows, err := s.presence.List(ctx)
	if err != nil {
		return nil, storeError(err)
	}

	byUser := make(map[uuid.UUID]*models.UserPresence, len(rows))
	for i := range rows {
		byUser[rows[i].UserID] = &rows[i]
	}

	now := database.Now()
	out := make([]UserStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.view(id, byUser[id], now))
	}
	return out, nil
}
