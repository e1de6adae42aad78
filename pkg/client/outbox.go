package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/realtime"
	"github.com/google/uuid"
)

// Requester sends one realtime request and returns the confirmed ack data.
// *Session implements it.
type Requester interface {
	Request(ctx context.Context, typ realtime.RequestType, data any) (json.RawMessage, error)
}

// State of an outgoing message.
type State string

const (
	Pending   State = "pending"
	Confirmed State = "confirmed"
	Failed    State = "failed"
)

var (
	ErrUnknownEntry = errors.New("unknown outbox entry")
	ErrNotFailed    = errors.New("only failed entries can be retried")
)

// Entry is one outgoing message keyed by its client id. Target is the channel
// for channel messages and the recipient for direct messages.
type Entry struct {
	ClientID string
	Direct   bool
	Target   uuid.UUID
	Content  string
	State    State
	// MessageID is set once the server confirmed the write.
	MessageID uuid.UUID
	Err       error
}

// Outbox tracks sends as Pending -> Confirmed | Failed. Entries are reconciled
// by client id, either from the ack or from the feed event carrying the
// stored row, whichever arrives first.
type Outbox struct {
	req Requester

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
}

func NewOutbox(req Requester) *Outbox {
	return &Outbox{req: req, entries: make(map[string]*Entry)}
}

// SendMessage posts content to a channel and returns the settled entry.
func (o *Outbox) SendMessage(ctx context.Context, channelID uuid.UUID, content string) Entry {
	e := o.add(false, channelID, content)
	return o.send(ctx, e.ClientID)
}

// SendDirect sends content to a user and returns the settled entry.
func (o *Outbox) SendDirect(ctx context.Context, toUserID uuid.UUID, content string) Entry {
	e := o.add(true, toUserID, content)
	return o.send(ctx, e.ClientID)
}

// Retry resends a failed entry under its original client id, so a write that
// was stored before the failure is not duplicated.
func (o *Outbox) Retry(ctx context.Context, clientID string) (Entry, error) {
	o.mu.Lock()
	e, ok := o.entries[clientID]
	if !ok {
		o.mu.Unlock()
		return Entry{}, ErrUnknownEntry
	}
	if e.State != Failed {
		snapshot := *e
		o.mu.Unlock()
		return snapshot, ErrNotFailed
	}
	e.State = Pending
	e.Err = nil
	o.mu.Unlock()

	return o.send(ctx, clientID), nil
}

// ReconcileMessage confirms the entry matching a stored channel message.
func (o *Outbox) ReconcileMessage(m *models.Message) bool {
	if m == nil {
		return false
	}
	return o.confirm(m.ClientID, m.ID)
}

// ReconcileDirect confirms the entry matching a stored direct message.
func (o *Outbox) ReconcileDirect(m *models.DirectMessage) bool {
	if m == nil {
		return false
	}
	return o.confirm(m.ClientID, m.ID)
}

func (o *Outbox) Get(clientID string) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[clientID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns every entry in send order.
func (o *Outbox) Entries() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Entry, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, *o.entries[id])
	}
	return out
}

// Forget drops a settled entry. Pending entries are kept.
func (o *Outbox) Forget(clientID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[clientID]
	if !ok || e.State == Pending {
		return false
	}
	delete(o.entries, clientID)
	for i, id := range o.order {
		if id == clientID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return true
}

func (o *Outbox) add(direct bool, target uuid.UUID, content string) Entry {
	e := &Entry{
		ClientID: uuid.NewString(),
		Direct:   direct,
		Target:   target,
		Content:  content,
		State:    Pending,
	}
	o.mu.Lock()
	o.entries[e.ClientID] = e
	o.order = append(o.order, e.ClientID)
	o.mu.Unlock()
	return *e
}

func (o *Outbox) send(ctx context.Context, clientID string) Entry {
	o.mu.Lock()
	e := *o.entries[clientID]
	o.mu.Unlock()

	var (
		raw json.RawMessage
		err error
	)
	if e.Direct {
		raw, err = o.req.Request(ctx, realtime.RequestSendDirect, map[string]any{
			"to_user_id": e.Target,
			"content":    e.Content,
			"client_id":  e.ClientID,
		})
	} else {
		raw, err = o.req.Request(ctx, realtime.RequestSendMessage, map[string]any{
			"channel_id": e.Target,
			"content":    e.Content,
			"client_id":  e.ClientID,
		})
	}

	if err == nil {
		var stored struct {
			ID uuid.UUID `json:"id"`
		}
		if derr := json.Unmarshal(raw, &stored); derr != nil || stored.ID == uuid.Nil {
			err = fmt.Errorf("malformed send ack: %s", raw)
		} else {
			o.confirm(clientID, stored.ID)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	cur := o.entries[clientID]
	if err != nil && cur.State == Pending {
		cur.State = Failed
		cur.Err = err
	}
	return *cur
}

// confirm settles an entry as Confirmed. A failed entry may still be confirmed
// when the feed shows the write was stored.
func (o *Outbox) confirm(clientID string, id uuid.UUID) bool {
	if clientID == "" {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[clientID]
	if !ok || e.State == Confirmed {
		return false
	}
	e.State = Confirmed
	e.MessageID = id
	e.Err = nil
	return true
}
