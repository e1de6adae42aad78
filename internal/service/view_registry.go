package service

import (
	"context"
	"time"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultViewTTL bounds how long a view outlives the last heartbeat of its
// session, e.g. after a node crash.
const DefaultViewTTL = 2 * time.Minute

// LocalViews answers for sessions held by this process.
type LocalViews interface {
	IsViewing(userID uuid.UUID, key feed.StreamKey) bool
}

// ViewRegistry records open streams in Redis so that fan-out on any node
// skips users who are looking at the stream. Each (user, stream) pair is a
// hash of session ids expiring ttl after the last refresh.
type ViewRegistry struct {
	redis *redis.Client
	ttl   time.Duration
	local LocalViews
}

func NewViewRegistry(rdb *redis.Client, ttl time.Duration) *ViewRegistry {
	if ttl <= 0 {
		ttl = DefaultViewTTL
	}
	return &ViewRegistry{redis: rdb, ttl: ttl}
}

// WithLocal consults local before Redis, and alone when Redis is unavailable.
func (r *ViewRegistry) WithLocal(local LocalViews) *ViewRegistry {
	r.local = local
	return r
}

func viewKey(userID uuid.UUID, key feed.StreamKey) string {
	return "viewing:" + userID.String() + ":" + string(key)
}

func (r *ViewRegistry) Enter(ctx context.Context, sessionID, userID uuid.UUID, key feed.StreamKey) {
	if r.redis == nil {
		return
	}
	k := viewKey(userID, key)
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, sessionID.String(), 1)
		pipe.Expire(ctx, k, r.ttl)
		return nil
	})
	if err != nil {
		logger.Log.Warn("Failed to record view", zap.String("stream", string(key)), zap.Error(err))
	}
}

func (r *ViewRegistry) Leave(ctx context.Context, sessionID, userID uuid.UUID, key feed.StreamKey) {
	if r.redis == nil {
		return
	}
	if err := r.redis.HDel(ctx, viewKey(userID, key), sessionID.String()).Err(); err != nil {
		logger.Log.Warn("Failed to clear view", zap.String("stream", string(key)), zap.Error(err))
	}
}

// Refresh extends the views of one session.
func (r *ViewRegistry) Refresh(ctx context.Context, sessionID, userID uuid.UUID, keys []feed.StreamKey) {
	if r.redis == nil || len(keys) == 0 {
		return
	}
	_, err := r.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			k := viewKey(userID, key)
			pipe.HSet(ctx, k, sessionID.String(), 1)
			pipe.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	if err != nil {
		logger.Log.Warn("Failed to refresh views", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// IsViewing reports whether any session of userID, on any node, has key open.
func (r *ViewRegistry) IsViewing(ctx context.Context, userID uuid.UUID, key feed.StreamKey) bool {
	if r.local != nil && r.local.IsViewing(userID, key) {
		return true
	}
	if r.redis == nil {
		return false
	}
	n, err := r.redis.Exists(ctx, viewKey(userID, key)).Result()
	if err != nil {
		logger.Log.Warn("View lookup unavailable", zap.String("stream", string(key)), zap.Error(err))
		return false
	}
	return n > 0
}
