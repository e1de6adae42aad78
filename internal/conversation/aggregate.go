// Package conversation derives the per-peer conversation list from a user's
// direct messages.
package conversation

import (
	"sort"
	"time"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/google/uuid"
)

// Conversation summarizes the direct messages exchanged with one peer.
type Conversation struct {
	PeerID        uuid.UUID             `json:"peer_id"`
	Peer          *models.User          `json:"peer,omitempty"`
	LastMessage   *models.DirectMessage `json:"last_message,omitempty"`
	LastMessageAt *time.Time            `json:"last_message_at,omitempty"`
	UnreadCount   int                   `json:"unread_count"`
}

// Aggregate groups dms by the counterpart of me. The last message of a group
// is its newest visible message, unread counts visible messages addressed to
// me that are not read, and groups are ordered newest first with groups that
// have no visible message last. Messages that do not involve me, or that are
// addressed to oneself, are ignored.
func Aggregate(me uuid.UUID, dms []models.DirectMessage) []Conversation {
	groups := make(map[uuid.UUID]*Conversation)
	order := make([]uuid.UUID, 0)

	for i := range dms {
		dm := &dms[i]
		if dm.FromUserID == dm.ToUserID {
			continue
		}
		if dm.FromUserID != me && dm.ToUserID != me {
			continue
		}

		peer := dm.Peer(me)
		c, ok := groups[peer]
		if !ok {
			c = &Conversation{PeerID: peer}
			groups[peer] = c
			order = append(order, peer)
		}

		if dm.IsDeleted {
			continue
		}
		if dm.ToUserID == me && !dm.IsRead {
			c.UnreadCount++
		}
		if c.LastMessage == nil || newer(dm, c.LastMessage) {
			c.LastMessage = dm
		}
	}

	out := make([]Conversation, 0, len(order))
	for _, peer := range order {
		c := groups[peer]
		if c.LastMessage != nil {
			at := c.LastMessage.CreatedAt
			c.LastMessageAt = &at
		}
		out = append(out, *c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return out[i].PeerID.String() < out[j].PeerID.String()
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		default:
			return out[i].PeerID.String() < out[j].PeerID.String()
		}
	})
	return out
}

// newer orders by creation time, breaking ties by id.
func newer(a, b *models.DirectMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}

// TotalUnread sums the unread counts of convs.
func TotalUnread(convs []Conversation) int {
	n := 0
	for _, c := range convs {
		n += c.UnreadCount
	}
	return n
}
