package client

import (
	"sync"
	"time"

	"github.com/Baaaki/teamchat/internal/conversation"
	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/google/uuid"
)

// Conversations holds the caller's direct messages and the conversation list
// derived from them. The list is rebuilt from the rows on every change; a
// change older than the last one applied to the same message is ignored.
type Conversations struct {
	me uuid.UUID

	mu   sync.Mutex
	rows map[uuid.UUID]models.DirectMessage
	seen map[uuid.UUID]time.Time
	view []conversation.Conversation
}

func NewConversations(me uuid.UUID) *Conversations {
	return &Conversations{
		me:   me,
		rows: make(map[uuid.UUID]models.DirectMessage),
		seen: make(map[uuid.UUID]time.Time),
	}
}

// Load replaces every row.
func (c *Conversations) Load(dms []models.DirectMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = make(map[uuid.UUID]models.DirectMessage, len(dms))
	c.seen = make(map[uuid.UUID]time.Time)
	for _, dm := range dms {
		c.put(dm)
	}
	c.rebuild()
}

func (c *Conversations) ApplyEvent(ev feed.Event) error {
	change, err := feed.Decode[models.DirectMessage](ev)
	if err != nil {
		return err
	}
	c.Apply(change)
	return nil
}

// Apply stores the latest row image of a change. Deleted messages stay as
// tombstones and drop out of the derived view.
func (c *Conversations) Apply(change feed.Change[models.DirectMessage]) {
	row := change.Current()
	if row == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if row.FromUserID != c.me && row.ToUserID != c.me {
		return
	}
	if outdated(c.seen, row.ID, change.At) {
		return
	}
	if c.put(*row) {
		c.rebuild()
	}
}

func (c *Conversations) List() []conversation.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]conversation.Conversation, len(c.view))
	copy(out, c.view)
	return out
}

func (c *Conversations) TotalUnread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return conversation.TotalUnread(c.view)
}

func (c *Conversations) put(dm models.DirectMessage) bool {
	if dm.FromUserID != c.me && dm.ToUserID != c.me {
		return false
	}
	c.rows[dm.ID] = dm
	return true
}

func (c *Conversations) rebuild() {
	dms := make([]models.DirectMessage, 0, len(c.rows))
	for _, dm := range c.rows {
		dms = append(dms, dm)
	}
	c.view = conversation.Aggregate(c.me, dms)
}
