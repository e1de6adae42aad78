package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/realtime"
	"github.com/google/uuid"
)

// Inbox keeps the caller's notifications and unread counter. The counter moves
// +1 when an unread notification appears and -1 exactly once when a known
// unread notification becomes read or disappears. Local state changes only
// after the server confirmed a mark-read. A change older than the last one
// applied to the same notification is ignored, so a replayed event cannot
// roll a row back.
type Inbox struct {
	req Requester
	me  uuid.UUID

	mu     sync.Mutex
	items  map[uuid.UUID]*models.Notification
	seen   map[uuid.UUID]time.Time
	unread int
	toast  func(models.Notification)
}

func NewInbox(req Requester, me uuid.UUID) *Inbox {
	return &Inbox{
		req:   req,
		me:    me,
		items: make(map[uuid.UUID]*models.Notification),
		seen:  make(map[uuid.UUID]time.Time),
	}
}

// OnToast registers a cosmetic callback for new unread notifications. Hosts
// register it only when the user granted notification permission.
func (in *Inbox) OnToast(fn func(models.Notification)) {
	in.mu.Lock()
	in.toast = fn
	in.mu.Unlock()
}

// Load replaces local state with a freshly fetched list.
func (in *Inbox) Load(list []models.Notification) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.items = make(map[uuid.UUID]*models.Notification, len(list))
	in.seen = make(map[uuid.UUID]time.Time)
	in.unread = 0
	for i := range list {
		n := list[i]
		if n.UserID != in.me {
			continue
		}
		in.items[n.ID] = &n
		if !n.IsRead {
			in.unread++
		}
	}
}

func (in *Inbox) Unread() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.unread
}

// Items returns a copy of the known notifications.
func (in *Inbox) Items() []models.Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]models.Notification, 0, len(in.items))
	for _, n := range in.items {
		out = append(out, *n)
	}
	return out
}

// ApplyEvent decodes and applies an event from the notification stream.
func (in *Inbox) ApplyEvent(ev feed.Event) error {
	change, err := feed.Decode[models.Notification](ev)
	if err != nil {
		return err
	}
	in.Apply(change)
	return nil
}

// Apply folds one change into local state. Redelivered events are harmless.
func (in *Inbox) Apply(change feed.Change[models.Notification]) {
	row := change.Current()
	if row == nil || row.UserID != in.me {
		return
	}

	in.mu.Lock()
	if outdated(in.seen, row.ID, change.At) {
		in.mu.Unlock()
		return
	}
	var toast func(models.Notification)
	switch change.Kind {
	case feed.Insert, feed.Update:
		prev, known := in.items[row.ID]
		n := *row
		in.items[row.ID] = &n
		switch {
		case !known && !n.IsRead:
			in.unread++
			toast = in.toast
		case known && !prev.IsRead && n.IsRead:
			in.unread--
		case known && prev.IsRead && !n.IsRead:
			in.unread++
		}
	case feed.Delete:
		if prev, known := in.items[row.ID]; known {
			if !prev.IsRead {
				in.unread--
			}
			delete(in.items, row.ID)
		}
	}
	if in.unread < 0 {
		in.unread = 0
	}
	in.mu.Unlock()

	if toast != nil {
		toast(*row)
	}
}

// MarkRead marks one notification read on the server, then locally.
func (in *Inbox) MarkRead(ctx context.Context, id uuid.UUID) error {
	if _, err := in.req.Request(ctx, realtime.RequestMarkRead, map[string]any{"id": id}); err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if n, ok := in.items[id]; ok && !n.IsRead {
		n.IsRead = true
		in.unread--
	}
	return nil
}

// MarkAllRead marks every notification read on the server and returns how
// many it changed. Locally only the notifications known to be unread when the
// request was sent are flipped, each at most once, so one that arrives while
// the request is in flight stays unread. On error nothing changes locally.
func (in *Inbox) MarkAllRead(ctx context.Context) (int, error) {
	in.mu.Lock()
	var pending []uuid.UUID
	for id, n := range in.items {
		if !n.IsRead {
			pending = append(pending, id)
		}
	}
	in.mu.Unlock()

	raw, err := in.req.Request(ctx, realtime.RequestMarkAllRead, nil)
	if err != nil {
		return 0, err
	}
	var ack struct {
		Updated *int `json:"updated"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil || ack.Updated == nil {
		return 0, fmt.Errorf("malformed mark_all_read ack: %s", raw)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	for _, id := range pending {
		if n, ok := in.items[id]; ok && !n.IsRead {
			n.IsRead = true
			in.unread--
		}
	}
	if in.unread < 0 {
		in.unread = 0
	}
	return *ack.Updated, nil
}

// outdated reports whether a change at "at" predates the last one applied to
// id, and records it otherwise. Changes without a timestamp always apply.
func outdated(seen map[uuid.UUID]time.Time, id uuid.UUID, at time.Time) bool {
	if at.IsZero() {
		return false
	}
	if last, ok := seen[id]; ok && at.Before(last) {
		return true
	}
	seen[id] = at
	return false
}
