package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Baaaki/teamchat/internal/broker"
	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDenied = errors.New("denied")

// denyAuthorizer rejects the listed stream keys.
type denyAuthorizer map[feed.StreamKey]bool

func (d denyAuthorizer) AuthorizeStream(ctx context.Context, userID uuid.UUID, st feed.Stream) error {
	if d[st.Key()] {
		return errDenied
	}
	return nil
}

type presenceRecorder struct {
	mu      sync.Mutex
	connect []uuid.UUID
	offline []uuid.UUID
}

func (p *presenceRecorder) Connect(ctx context.Context, userID uuid.UUID) {
	p.mu.Lock()
	p.connect = append(p.connect, userID)
	p.mu.Unlock()
}

func (p *presenceRecorder) Offline(ctx context.Context, userID uuid.UUID) {
	p.mu.Lock()
	p.offline = append(p.offline, userID)
	p.mu.Unlock()
}

func (p *presenceRecorder) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connect), len(p.offline)
}

func newTestHub(t *testing.T, auth Authorizer) (*Hub, *presenceRecorder) {
	t.Helper()
	b := broker.NewMemoryBroker()
	t.Cleanup(func() { _ = b.Close() })
	presence := &presenceRecorder{}
	h := NewHub(b, auth, presence)
	t.Cleanup(h.Shutdown)
	return h, presence
}

func testEvent(t *testing.T, key feed.StreamKey, content string) feed.Event {
	t.Helper()
	type row struct {
		Content string `json:"content"`
	}
	ev, err := feed.NewEvent[row](key, feed.Insert, feed.EntityMessage, nil, &row{Content: content})
	require.NoError(t, err)
	return ev
}

func next(t *testing.T, s *Session, wait time.Duration) (Response, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return s.Next(ctx)
}

func TestSession_DuplicateSubscribeReturnsExisting(t *testing.T) {
	h, _ := newTestHub(t, nil)
	s := h.Open(context.Background(), uuid.New())
	key := feed.ChannelKey(uuid.New())

	first, created, err := s.Subscribe(context.Background(), string(key))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.Subscribe(context.Background(), string(key))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, second)

	ev := testEvent(t, key, "hello")
	h.dispatch(ev)

	resp, ok := next(t, s, 100*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, ResponseEvent, resp.Type)
	assert.Equal(t, key, resp.Stream)
	assert.Equal(t, ev.ID, resp.Event.ID)

	_, ok = next(t, s, 50*time.Millisecond)
	assert.False(t, ok, "one subscription per stream delivers once")
}

func TestSession_NotificationsAlias(t *testing.T) {
	h, _ := newTestHub(t, nil)
	user := uuid.New()
	s := h.Open(context.Background(), user)

	sub, _, err := s.Subscribe(context.Background(), feed.NotificationsAlias)
	require.NoError(t, err)
	assert.Equal(t, feed.NotificationKey(user), sub.Key())
	assert.True(t, s.Unsubscribe(feed.NotificationsAlias))
}

func TestSession_RejectsUnauthorizedAndInvalid(t *testing.T) {
	private := feed.ChannelKey(uuid.New())
	h, _ := newTestHub(t, denyAuthorizer{private: true})
	s := h.Open(context.Background(), uuid.New())

	_, _, err := s.Subscribe(context.Background(), string(private))
	assert.ErrorIs(t, err, errDenied)
	assert.Empty(t, s.Streams())

	_, _, err = s.Subscribe(context.Background(), "messages:not-a-uuid")
	assert.ErrorIs(t, err, feed.ErrInvalidStreamKey)
}

func TestSession_UnsubscribeDropsQueuedEvents(t *testing.T) {
	h, _ := newTestHub(t, nil)
	s := h.Open(context.Background(), uuid.New())
	key := feed.ChannelKey(uuid.New())

	_, _, err := s.Subscribe(context.Background(), string(key))
	require.NoError(t, err)
	h.dispatch(testEvent(t, key, "queued"))

	require.True(t, s.Unsubscribe(string(key)))
	assert.False(t, s.Unsubscribe(string(key)))

	h.dispatch(testEvent(t, key, "after"))
	_, ok := next(t, s, 50*time.Millisecond)
	assert.False(t, ok)
}

func TestSession_SendQueuesAcks(t *testing.T) {
	h, _ := newTestHub(t, nil)
	s := h.Open(context.Background(), uuid.New())

	require.True(t, s.Send(Failed("r1", "validation", "bad", "")))
	resp, ok := next(t, s, 50*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, StatusFailed, resp.Status)
}

func TestHub_IsViewing(t *testing.T) {
	h, _ := newTestHub(t, nil)
	user, other := uuid.New(), uuid.New()
	key := feed.DirectKey(user, other)

	s := h.Open(context.Background(), user)
	assert.False(t, h.IsViewing(user, key))

	_, _, err := s.Subscribe(context.Background(), string(key))
	require.NoError(t, err)
	assert.True(t, h.IsViewing(user, key))
	assert.False(t, h.IsViewing(other, key))

	s.Close()
	assert.False(t, h.IsViewing(user, key))
}

func TestHub_OverflowClosesSession(t *testing.T) {
	h, presence := newTestHub(t, nil)
	h.WithQueueSize(2)
	user := uuid.New()
	s := h.Open(context.Background(), user)
	key := feed.ChannelKey(uuid.New())
	_, _, err := s.Subscribe(context.Background(), string(key))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.dispatch(testEvent(t, key, "burst"))
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session should close on overflow")
	}
	assert.Zero(t, h.Sessions(user))
	assert.False(t, h.IsViewing(user, key))
	_, offline := presence.counts()
	assert.Equal(t, 1, offline)

	_, _, err = s.Subscribe(context.Background(), string(key))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestHub_PresenceFollowsFirstAndLastSession(t *testing.T) {
	h, presence := newTestHub(t, nil)
	user := uuid.New()

	a := h.Open(context.Background(), user)
	b := h.Open(context.Background(), user)
	connect, offline := presence.counts()
	assert.Equal(t, 1, connect)
	assert.Zero(t, offline)

	a.Close()
	a.Close()
	_, offline = presence.counts()
	assert.Zero(t, offline)

	b.Close()
	_, offline = presence.counts()
	assert.Equal(t, 1, offline)
}

func TestHub_RunDeliversBrokerEvents(t *testing.T) {
	b := broker.NewMemoryBroker()
	t.Cleanup(func() { _ = b.Close() })
	h := NewHub(b, nil, nil)
	t.Cleanup(h.Shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	s := h.Open(context.Background(), uuid.New())
	key := feed.ChannelKey(uuid.New())
	_, _, err := s.Subscribe(context.Background(), string(key))
	require.NoError(t, err)

	ev := testEvent(t, key, "live")
	var resp Response
	var ok bool
	for i := 0; i < 50 && !ok; i++ {
		require.NoError(t, b.Publish(context.Background(), ev))
		resp, ok = next(t, s, 20*time.Millisecond)
	}
	require.True(t, ok)
	assert.Equal(t, ev.ID, resp.Event.ID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
}

func TestHub_ClosedFeedEndsSessions(t *testing.T) {
	b := broker.NewMemoryBroker()
	h := NewHub(b, nil, nil)
	t.Cleanup(h.Shutdown)

	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background()) }()
	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	user := uuid.New()
	s := h.Open(context.Background(), user)
	_, _, err := s.Subscribe(context.Background(), string(feed.PresenceKey))
	require.NoError(t, err)

	require.NoError(t, b.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrFeedClosed)
	case <-time.After(time.Second):
		t.Fatal("hub kept running without a feed")
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session outlived the feed")
	}
	assert.Zero(t, h.Sessions(user))
}

// removedAuthorizer denies channel streams to users marked removed.
type removedAuthorizer struct {
	mu      sync.Mutex
	removed map[uuid.UUID]bool
}

func (a *removedAuthorizer) remove(userID uuid.UUID) {
	a.mu.Lock()
	a.removed[userID] = true
	a.mu.Unlock()
}

func (a *removedAuthorizer) AuthorizeStream(ctx context.Context, userID uuid.UUID, st feed.Stream) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st.Type == feed.StreamMessages && a.removed[userID] {
		return errDenied
	}
	return nil
}

func membershipDeleted(t *testing.T, key feed.StreamKey, userID uuid.UUID) feed.Event {
	t.Helper()
	ev, err := feed.NewEvent(key, feed.Delete, feed.EntityMembership, &memberRef{UserID: userID}, nil)
	require.NoError(t, err)
	return ev
}

func TestHub_MembershipRemovalRevokesStream(t *testing.T) {
	auth := &removedAuthorizer{removed: map[uuid.UUID]bool{}}
	h, _ := newTestHub(t, auth)
	alice, bob := uuid.New(), uuid.New()
	key := feed.ChannelKey(uuid.New())

	a := h.Open(context.Background(), alice)
	b := h.Open(context.Background(), bob)
	for _, s := range []*Session{a, b} {
		_, _, err := s.Subscribe(context.Background(), string(key))
		require.NoError(t, err)
	}

	auth.remove(bob)
	h.dispatch(membershipDeleted(t, key, bob))

	resp, ok := next(t, b, 100*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, ResponseWarning, resp.Type)
	assert.Equal(t, key, resp.Stream)
	assert.Empty(t, b.Streams())
	assert.False(t, h.IsViewing(bob, key))

	resp, ok = next(t, a, 100*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, feed.EntityMembership, resp.Event.Entity)

	ev := testEvent(t, key, "members only")
	h.dispatch(ev)
	resp, ok = next(t, a, 100*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, ev.ID, resp.Event.ID)
	_, ok = next(t, b, 50*time.Millisecond)
	assert.False(t, ok, "removed member still receives channel events")

	// Leaving a channel that stays readable keeps the subscription.
	h.dispatch(membershipDeleted(t, key, alice))
	assert.True(t, h.IsViewing(alice, key))
}

type viewRecorder struct {
	mu        sync.Mutex
	entered   []feed.StreamKey
	left      []feed.StreamKey
	refreshed [][]feed.StreamKey
}

func (v *viewRecorder) Enter(ctx context.Context, sessionID, userID uuid.UUID, key feed.StreamKey) {
	v.mu.Lock()
	v.entered = append(v.entered, key)
	v.mu.Unlock()
}

func (v *viewRecorder) Leave(ctx context.Context, sessionID, userID uuid.UUID, key feed.StreamKey) {
	v.mu.Lock()
	v.left = append(v.left, key)
	v.mu.Unlock()
}

func (v *viewRecorder) Refresh(ctx context.Context, sessionID, userID uuid.UUID, keys []feed.StreamKey) {
	v.mu.Lock()
	v.refreshed = append(v.refreshed, keys)
	v.mu.Unlock()
}

func TestHub_ViewsMirrorSubscriptions(t *testing.T) {
	h, _ := newTestHub(t, nil)
	views := &viewRecorder{}
	h.WithViews(views)

	s := h.Open(context.Background(), uuid.New())
	h.Touch(context.Background(), s)

	channel := feed.ChannelKey(uuid.New())
	_, _, err := s.Subscribe(context.Background(), string(channel))
	require.NoError(t, err)
	_, _, err = s.Subscribe(context.Background(), string(channel))
	require.NoError(t, err)
	_, _, err = s.Subscribe(context.Background(), string(feed.PresenceKey))
	require.NoError(t, err)

	h.Touch(context.Background(), s)
	require.True(t, s.Unsubscribe(string(channel)))
	s.Close()

	views.mu.Lock()
	defer views.mu.Unlock()
	assert.Equal(t, []feed.StreamKey{channel, feed.PresenceKey}, views.entered)
	assert.Equal(t, []feed.StreamKey{channel, feed.PresenceKey}, views.left)
	require.Len(t, views.refreshed, 1)
	assert.ElementsMatch(t, []feed.StreamKey{channel, feed.PresenceKey}, views.refreshed[0])
}
