package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/metrics"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrSessionClosed = errors.New("session closed")

// Subscription is one stream of one session. Once inactive it delivers nothing,
// including events already queued.
type Subscription struct {
	key     feed.StreamKey
	session *Session
	active  atomic.Bool
}

func (s *Subscription) Key() feed.StreamKey { return s.key }

func (s *Subscription) Active() bool { return s.active.Load() }

func (s *Subscription) deliver(ev feed.Event) {
	if !s.Active() {
		return
	}
	s.session.enqueue(outbound{sub: s, resp: Response{Type: ResponseEvent, Stream: s.key, Event: &ev}})
}

type outbound struct {
	sub  *Subscription
	resp Response
}

// Session is the server side of one websocket connection.
type Session struct {
	ID     uuid.UUID
	UserID uuid.UUID

	hub   *Hub
	queue chan outbound
	done  chan struct{}

	mu     sync.Mutex
	subs   map[feed.StreamKey]*Subscription
	closed bool
}

func newSession(h *Hub, userID uuid.UUID, queueSize int) *Session {
	return &Session{
		ID:     uuid.New(),
		UserID: userID,
		hub:    h,
		queue:  make(chan outbound, queueSize),
		done:   make(chan struct{}),
		subs:   make(map[feed.StreamKey]*Subscription),
	}
}

// Subscribe attaches the session to a stream. The bare notifications alias
// resolves to the caller's own stream. A repeated subscribe returns the
// existing subscription with created=false.
func (s *Session) Subscribe(ctx context.Context, raw string) (sub *Subscription, created bool, err error) {
	if raw == feed.NotificationsAlias {
		raw = string(feed.NotificationKey(s.UserID))
	}
	st, err := feed.Parse(raw)
	if err != nil {
		return nil, false, err
	}
	if s.hub.auth != nil {
		if err := s.hub.auth.AuthorizeStream(ctx, s.UserID, st); err != nil {
			return nil, false, err
		}
	}
	key := st.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrSessionClosed
	}
	if existing, ok := s.subs[key]; ok {
		logger.Log.Warn("Duplicate subscription",
			zap.String("session_id", s.ID.String()),
			zap.String("stream", string(key)),
		)
		return existing, false, nil
	}

	sub = &Subscription{key: key, session: s}
	sub.active.Store(true)
	s.subs[key] = sub
	s.hub.addSub(sub)
	return sub, true, nil
}

// Unsubscribe stops a stream and reports whether it was subscribed.
func (s *Session) Unsubscribe(raw string) bool {
	if raw == feed.NotificationsAlias {
		raw = string(feed.NotificationKey(s.UserID))
	}
	st, err := feed.Parse(raw)
	if err != nil {
		return false
	}
	key := st.Key()

	s.mu.Lock()
	sub, ok := s.subs[key]
	if ok {
		delete(s.subs, key)
		sub.active.Store(false)
	}
	s.mu.Unlock()

	if ok {
		s.hub.removeSub(sub)
	}
	return ok
}

// Streams lists the subscribed stream keys.
func (s *Session) Streams() []feed.StreamKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]feed.StreamKey, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	return keys
}

// Send queues a frame that belongs to no subscription, such as an ack.
func (s *Session) Send(resp Response) bool {
	return s.enqueue(outbound{resp: resp})
}

// enqueue never blocks. A full queue means the peer cannot keep up and the
// session is closed.
func (s *Session) enqueue(item outbound) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.queue <- item:
		return true
	default:
		metrics.RealtimeDropped.Inc()
		logger.Log.Warn("Session send queue overflow, closing",
			zap.String("session_id", s.ID.String()),
			zap.String("user_id", s.UserID.String()),
		)
		s.Close()
		return false
	}
}

// Next blocks until a frame is ready to write. It returns false once the
// session is closed or ctx is done.
func (s *Session) Next(ctx context.Context) (Response, bool) {
	for {
		select {
		case <-ctx.Done():
			return Response{}, false
		case <-s.done:
			return Response{}, false
		case item := <-s.queue:
			if item.sub != nil && !item.sub.Active() {
				continue
			}
			return item.resp, true
		}
	}
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close drops every subscription and unregisters the session. Pending frames
// are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	for _, sub := range subs {
		sub.active.Store(false)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.hub.removeSub(sub)
	}
	close(s.done)
	s.hub.unregister(s)

	logger.Log.Debug("Session closed",
		zap.String("session_id", s.ID.String()),
		zap.String("user_id", s.UserID.String()),
	)
}
