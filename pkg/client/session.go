// Package client is the Go SDK for the realtime chat core. A Session owns one
// websocket per user and multiplexes stream subscriptions over it; Outbox,
// Inbox and Conversations build client-side state on top of a Session.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/realtime"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait     = 10 * time.Second
	defaultBuffer = 64
)

var (
	ErrNoIdentity     = errors.New("no identity: token is empty")
	ErrClosed         = errors.New("session closed")
	ErrDisconnected   = errors.New("transport disconnected")
	ErrSessionExpired = errors.New("session expired")
	ErrSlowConsumer   = errors.New("subscription buffer full")
	ErrUnsubscribed   = errors.New("unsubscribed")
)

// RequestError is a failed ack. Message and MessageAr are safe to display.
type RequestError struct {
	Code      string
	Message   string
	MessageAr string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type Option func(*Session)

func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithOnDisconnect registers fn to run once per dropped transport. It is not
// called for Close.
func WithOnDisconnect(fn func(error)) Option {
	return func(s *Session) { s.onDisconnect = fn }
}

// WithOnWarning receives non-fatal server notices such as duplicate subscriptions.
func WithOnWarning(fn func(realtime.Response)) Option {
	return func(s *Session) { s.onWarning = fn }
}

// WithBuffer sets the per-subscription event buffer.
func WithBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// Session is the client side of the realtime transport. The connection is
// opened lazily by the first Subscribe or Request. When the transport drops
// every Subscription is invalidated and nothing is resubscribed; callers
// observe Connected or OnDisconnect and subscribe again.
type Session struct {
	url    string
	token  string
	dialer *websocket.Dialer
	buffer int

	onDisconnect func(error)
	onWarning    func(realtime.Response)

	mu     sync.Mutex
	conn   *conn
	closed bool
}

func NewSession(url, token string, opts ...Option) *Session {
	s := &Session{
		url:    url,
		token:  token,
		dialer: websocket.DefaultDialer,
		buffer: defaultBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connected reports whether a live transport is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.alive()
}

// Subscribe opens a handle on stream. A session holds at most one handle per
// stream: subscribing again to a live stream returns the existing handle.
func (s *Session) Subscribe(ctx context.Context, stream string) (*Subscription, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.inflight++
	c.mu.Unlock()

	raw, err := c.request(ctx, realtime.Request{Type: realtime.RequestSubscribe, Stream: stream})
	if err != nil {
		c.mu.Lock()
		c.settle()
		c.mu.Unlock()
		return nil, err
	}

	var ack struct {
		Stream feed.StreamKey `json:"stream"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil || ack.Stream == "" {
		c.mu.Lock()
		c.settle()
		c.mu.Unlock()
		return nil, fmt.Errorf("malformed subscribe ack: %s", raw)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		c.settle()
		return nil, c.err
	}
	if existing, ok := c.subs[ack.Stream]; ok {
		logger.Log.Warn("Duplicate subscription, reusing handle", zap.String("stream", string(ack.Stream)))
		c.settle()
		return existing, nil
	}

	sub := &Subscription{
		stream: ack.Stream,
		events: make(chan feed.Event, s.buffer),
		conn:   c,
	}
	c.subs[sub.stream] = sub
	for _, ev := range c.early[sub.stream] {
		c.deliverLocked(sub, ev)
	}
	delete(c.early, sub.stream)
	c.settle()
	return sub, nil
}

// Request sends one frame and waits for its ack, returning the ack data.
func (s *Session) Request(ctx context.Context, typ realtime.RequestType, data any) (json.RawMessage, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	req := realtime.Request{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		req.Data = raw
	}
	return c.request(ctx, req)
}

// Close drops the transport and every subscription. The session cannot be reused.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	c := s.conn
	s.conn = nil
	s.mu.Unlock()

	if c != nil {
		c.writeControlClose()
		c.teardown(ErrClosed)
	}
	return nil
}

func (s *Session) connect(ctx context.Context) (*conn, error) {
	if s.token == "" {
		return nil, ErrNoIdentity
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.conn != nil && s.conn.alive() {
		return s.conn, nil
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)
	ws, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: server rejected token", ErrNoIdentity)
		}
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}

	c := &conn{
		session: s,
		ws:      ws,
		done:    make(chan struct{}),
		pending: make(map[string]chan realtime.Response),
		subs:    make(map[feed.StreamKey]*Subscription),
		early:   make(map[feed.StreamKey][]feed.Event),
	}
	s.conn = c
	go c.readLoop()

	logger.Log.Debug("Realtime transport connected", zap.String("url", s.url))
	return c, nil
}

// dropped runs once per transport that ended without Close.
func (s *Session) dropped(c *conn, err error) {
	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
	}
	closed := s.closed
	s.mu.Unlock()

	if closed || errors.Is(err, ErrClosed) {
		return
	}
	logger.Log.Info("Realtime transport disconnected", zap.Error(err))
	if s.onDisconnect != nil {
		s.onDisconnect(err)
	}
}

// conn is one websocket lifetime. Subscriptions never outlive it.
type conn struct {
	session *Session
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}

	mu       sync.Mutex
	err      error
	pending  map[string]chan realtime.Response
	subs     map[feed.StreamKey]*Subscription
	early    map[feed.StreamKey][]feed.Event
	inflight int
}

func (c *conn) alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err == nil
}

// settle ends one in-flight subscribe. Events held for unclaimed streams are
// dropped once nothing is in flight.
func (c *conn) settle() {
	c.inflight--
	if c.inflight <= 0 {
		c.inflight = 0
		c.early = make(map[feed.StreamKey][]feed.Event)
	}
}

func (c *conn) request(ctx context.Context, req realtime.Request) (json.RawMessage, error) {
	req.RequestID = uuid.NewString()
	ch := make(chan realtime.Response, 1)

	c.mu.Lock()
	if err := c.err; err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.pending[req.RequestID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}

	if err := c.write(req); err != nil {
		forget()
		c.teardown(fmt.Errorf("%w: %v", ErrDisconnected, err))
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Status != realtime.StatusConfirmed {
			return nil, &RequestError{Code: resp.Code, Message: resp.Error, MessageAr: resp.ErrorAr}
		}
		return resp.Data, nil
	case <-c.done:
		forget()
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.err
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func (c *conn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) writeControlClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.teardown(fmt.Errorf("%w: %v", ErrDisconnected, err))
			return
		}

		var resp realtime.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			logger.Log.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}

		switch resp.Type {
		case realtime.ResponseAck:
			c.mu.Lock()
			ch, ok := c.pending[resp.RequestID]
			delete(c.pending, resp.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
		case realtime.ResponseEvent:
			if resp.Event != nil {
				c.dispatch(resp.Stream, *resp.Event)
			}
		case realtime.ResponseWarning:
			if c.session.onWarning != nil {
				c.session.onWarning(resp)
			}
		case realtime.ResponseSessionExpired:
			c.teardown(ErrSessionExpired)
			return
		}
	}
}

func (c *conn) dispatch(stream feed.StreamKey, ev feed.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[stream]
	if !ok {
		if c.inflight > 0 {
			c.early[stream] = append(c.early[stream], ev)
		}
		return
	}
	c.deliverLocked(sub, ev)
}

// deliverLocked never blocks the read loop. A handle that cannot keep up is
// invalidated.
func (c *conn) deliverLocked(sub *Subscription, ev feed.Event) {
	if sub.err != nil {
		return
	}
	select {
	case sub.events <- ev:
	default:
		logger.Log.Warn("Subscription overflowed, invalidating", zap.String("stream", string(sub.stream)))
		c.removeLocked(sub, ErrSlowConsumer)
	}
}

func (c *conn) removeLocked(sub *Subscription, reason error) {
	if c.subs[sub.stream] == sub {
		delete(c.subs, sub.stream)
	}
	sub.invalidate(reason)
}

func (c *conn) teardown(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	for _, sub := range c.subs {
		sub.invalidate(err)
	}
	c.subs = make(map[feed.StreamKey]*Subscription)
	c.early = make(map[feed.StreamKey][]feed.Event)
	c.pending = make(map[string]chan realtime.Response)
	close(c.done)
	c.mu.Unlock()

	_ = c.ws.Close()
	c.session.dropped(c, err)
}

// Subscription is one handle on a stream. Events is closed when the handle is
// unsubscribed or invalidated; Err then reports why.
type Subscription struct {
	stream feed.StreamKey
	events chan feed.Event
	conn   *conn

	// guarded by conn.mu
	err error
}

// Stream is the canonical key the server resolved, e.g. the caller's own
// notification stream for the "notifications" alias.
func (s *Subscription) Stream() feed.StreamKey { return s.stream }

func (s *Subscription) Events() <-chan feed.Event { return s.events }

func (s *Subscription) Err() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.err
}

func (s *Subscription) invalidate(reason error) {
	if s.err != nil {
		return
	}
	s.err = reason
	close(s.events)
}

// Unsubscribe releases the handle and the server subscription behind it.
// Every caller that received this handle from Subscribe sees it closed.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	c := s.conn
	c.mu.Lock()
	if s.err != nil {
		c.mu.Unlock()
		return nil
	}
	c.removeLocked(s, ErrUnsubscribed)
	dead := c.err != nil
	c.mu.Unlock()

	if dead {
		return nil
	}
	_, err := c.request(ctx, realtime.Request{Type: realtime.RequestUnsubscribe, Stream: string(s.stream)})
	return err
}
