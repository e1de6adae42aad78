package conversation

import (
	"testing"
	"time"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func dm(from, to uuid.UUID, minute int, read bool) models.DirectMessage {
	return models.DirectMessage{
		ID:         uuid.New(),
		FromUserID: from,
		ToUserID:   to,
		Content:    "hi",
		IsRead:     read,
		CreatedAt:  base.Add(time.Duration(minute) * time.Minute),
	}
}

func TestAggregate_GroupsAndOrders(t *testing.T) {
	me, alice, bob := uuid.New(), uuid.New(), uuid.New()

	dms := []models.DirectMessage{
		dm(alice, me, 1, false),
		dm(me, alice, 2, false),
		dm(alice, me, 3, false),
		dm(bob, me, 10, true),
		dm(me, bob, 11, false),
	}

	convs := Aggregate(me, dms)
	require.Len(t, convs, 2)

	assert.Equal(t, bob, convs[0].PeerID)
	assert.Equal(t, 0, convs[0].UnreadCount)
	assert.Equal(t, dms[4].ID, convs[0].LastMessage.ID)

	assert.Equal(t, alice, convs[1].PeerID)
	assert.Equal(t, 2, convs[1].UnreadCount, "only messages addressed to me count")
	assert.Equal(t, dms[2].ID, convs[1].LastMessage.ID)
	assert.Equal(t, dms[2].CreatedAt, *convs[1].LastMessageAt)

	assert.Equal(t, 2, TotalUnread(convs))
}

func TestAggregate_IgnoresDeletedAndForeign(t *testing.T) {
	me, alice, bob, carol := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	deletedNewest := dm(alice, me, 5, false)
	deletedNewest.IsDeleted = true

	onlyDeleted := dm(carol, me, 9, false)
	onlyDeleted.IsDeleted = true

	dms := []models.DirectMessage{
		dm(alice, me, 1, false),
		deletedNewest,
		onlyDeleted,
		dm(alice, bob, 7, false), // not mine
		dm(me, me, 8, false),     // self-addressed
	}

	convs := Aggregate(me, dms)
	require.Len(t, convs, 2)

	assert.Equal(t, alice, convs[0].PeerID)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, dms[0].ID, convs[0].LastMessage.ID)

	assert.Equal(t, carol, convs[1].PeerID, "groups without visible messages sort last")
	assert.Nil(t, convs[1].LastMessage)
	assert.Nil(t, convs[1].LastMessageAt)
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(uuid.New(), nil))
}

// For any input, every group's unread count equals the number of unread
// visible messages from that peer to me.
func TestAggregate_UnreadMatchesBruteForce(t *testing.T) {
	me := uuid.New()
	peers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	var dms []models.DirectMessage
	for i := 0; i < 60; i++ {
		p := peers[i%len(peers)]
		var m models.DirectMessage
		if i%2 == 0 {
			m = dm(p, me, i, i%3 == 0)
		} else {
			m = dm(me, p, i, false)
		}
		m.IsDeleted = i%7 == 0
		dms = append(dms, m)
	}

	for _, c := range Aggregate(me, dms) {
		want := 0
		for _, m := range dms {
			if m.FromUserID == c.PeerID && m.ToUserID == me && !m.IsRead && !m.IsDeleted {
				want++
			}
		}
		assert.Equal(t, want, c.UnreadCount, c.PeerID.String())
	}
}
