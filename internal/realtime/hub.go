// Package realtime multiplexes change-feed streams onto websocket sessions.
// One Hub per process consumes the broker; each connection gets a Session
// holding at most one Subscription per stream key.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Baaaki/teamchat/internal/broker"
	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/metrics"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultQueueSize = 256
	revokeTimeout    = 5 * time.Second
)

// ErrFeedClosed is returned by Run when the broker ends the hub's subscription.
var ErrFeedClosed = errors.New("change feed closed")

// Authorizer decides whether a user may subscribe to a stream.
type Authorizer interface {
	AuthorizeStream(ctx context.Context, userID uuid.UUID, st feed.Stream) error
}

// PresenceHook is told when a user's first session opens and last one closes.
type PresenceHook interface {
	Connect(ctx context.Context, userID uuid.UUID)
	Offline(ctx context.Context, userID uuid.UUID)
}

// ViewHook mirrors which streams each session has open so that consumers on
// any node can tell whether a user is looking at a stream.
type ViewHook interface {
	Enter(ctx context.Context, sessionID, userID uuid.UUID, key feed.StreamKey)
	Leave(ctx context.Context, sessionID, userID uuid.UUID, key feed.StreamKey)
	Refresh(ctx context.Context, sessionID, userID uuid.UUID, keys []feed.StreamKey)
}

type Hub struct {
	broker    broker.Broker
	auth      Authorizer
	presence  PresenceHook
	views     ViewHook
	queueSize int

	mu       sync.RWMutex
	streams  map[feed.StreamKey]map[*Subscription]struct{}
	sessions map[uuid.UUID]map[*Session]struct{}
}

func NewHub(b broker.Broker, auth Authorizer, presence PresenceHook) *Hub {
	return &Hub{
		broker:    b,
		auth:      auth,
		presence:  presence,
		queueSize: DefaultQueueSize,
		streams:   make(map[feed.StreamKey]map[*Subscription]struct{}),
		sessions:  make(map[uuid.UUID]map[*Session]struct{}),
	}
}

// WithQueueSize sets the per-session send queue length.
func (h *Hub) WithQueueSize(n int) *Hub {
	if n > 0 {
		h.queueSize = n
	}
	return h
}

// WithViews mirrors subscriptions into v.
func (h *Hub) WithViews(v ViewHook) *Hub {
	h.views = v
	return h
}

// Run consumes every stream of the broker until ctx is done. If the broker
// closes the feed first every session is closed and ErrFeedClosed returned.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.broker.Subscribe(ctx, "*")
	if err != nil {
		return fmt.Errorf("subscribe hub: %w", err)
	}

	logger.Log.Info("Realtime hub started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				logger.Log.Error("Change feed closed, ending realtime sessions")
				h.Shutdown()
				return ErrFeedClosed
			}
			h.dispatch(ev)
		}
	}
}

func (h *Hub) dispatch(ev feed.Event) {
	if ev.Entity == feed.EntityMembership && ev.Kind == feed.Delete {
		h.revoke(ev)
	}

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.streams[ev.Stream]))
	for sub := range h.streams[ev.Stream] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(ev)
	}
}

// Open starts a session for an authenticated user.
func (h *Hub) Open(ctx context.Context, userID uuid.UUID) *Session {
	s := newSession(h, userID, h.queueSize)

	h.mu.Lock()
	set := h.sessions[userID]
	if set == nil {
		set = make(map[*Session]struct{})
		h.sessions[userID] = set
	}
	set[s] = struct{}{}
	first := len(set) == 1
	h.mu.Unlock()

	metrics.RealtimeSessions.Inc()
	logger.Log.Debug("Session opened",
		zap.String("session_id", s.ID.String()),
		zap.String("user_id", userID.String()),
	)
	if first && h.presence != nil {
		h.presence.Connect(ctx, userID)
	}
	return s
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	set := h.sessions[s.UserID]
	delete(set, s)
	last := len(set) == 0
	if last {
		delete(h.sessions, s.UserID)
	}
	h.mu.Unlock()

	metrics.RealtimeSessions.Dec()
	if last && h.presence != nil {
		h.presence.Offline(context.Background(), s.UserID)
	}
}

// memberRef is the part of a membership row the hub needs.
type memberRef struct {
	UserID uuid.UUID `json:"user_id"`
}

// revoke re-checks access for the member a membership delete removed and
// drops their subscriptions to the stream when access is gone.
func (h *Hub) revoke(ev feed.Event) {
	change, err := feed.Decode[memberRef](ev)
	if err != nil || change.Old == nil {
		return
	}
	userID := change.Old.UserID

	h.mu.RLock()
	var affected []*Session
	for s := range h.sessions[userID] {
		affected = append(affected, s)
	}
	h.mu.RUnlock()
	if len(affected) == 0 || !h.IsViewing(userID, ev.Stream) {
		return
	}

	if h.auth != nil {
		st, err := feed.Parse(string(ev.Stream))
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
		err = h.auth.AuthorizeStream(ctx, userID, st)
		cancel()
		if err == nil {
			return
		}
	}

	for _, s := range affected {
		if s.Unsubscribe(string(ev.Stream)) {
			s.Send(Response{
				Type:    ResponseWarning,
				Stream:  ev.Stream,
				Message: "Subscription revoked",
			})
			logger.Log.Info("Subscription revoked",
				zap.String("session_id", s.ID.String()),
				zap.String("user_id", userID.String()),
				zap.String("stream", string(ev.Stream)),
			)
		}
	}
}

func (h *Hub) addSub(sub *Subscription) {
	h.mu.Lock()
	set := h.streams[sub.key]
	if set == nil {
		set = make(map[*Subscription]struct{})
		h.streams[sub.key] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeSubscriptions.Inc()

	if h.views != nil {
		h.views.Enter(context.Background(), sub.session.ID, sub.session.UserID, sub.key)
	}
}

func (h *Hub) removeSub(sub *Subscription) {
	h.mu.Lock()
	set, ok := h.streams[sub.key]
	if ok {
		if _, found := set[sub]; found {
			delete(set, sub)
			metrics.RealtimeSubscriptions.Dec()
		}
		if len(set) == 0 {
			delete(h.streams, sub.key)
		}
	}
	h.mu.Unlock()

	if h.views != nil {
		h.views.Leave(context.Background(), sub.session.ID, sub.session.UserID, sub.key)
	}
}

// Touch extends the lifetime of the session's mirrored views. Called on heartbeat.
func (h *Hub) Touch(ctx context.Context, s *Session) {
	if h.views == nil {
		return
	}
	if keys := s.Streams(); len(keys) > 0 {
		h.views.Refresh(ctx, s.ID, s.UserID, keys)
	}
}

// IsViewing reports whether any live session of userID subscribes key.
func (h *Hub) IsViewing(userID uuid.UUID, key feed.StreamKey) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.streams[key] {
		if sub.session.UserID == userID && sub.Active() {
			return true
		}
	}
	return false
}

// Sessions returns the number of open sessions of userID.
func (h *Hub) Sessions(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// Shutdown closes every session.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	var all []*Session
	for _, set := range h.sessions {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range all {
		s.Close()
	}
}
