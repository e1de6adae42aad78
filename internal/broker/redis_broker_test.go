package broker

import (
	"context"
	"testing"
	"time"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	N int `json:"n"`
}

func event(t *testing.T, key feed.StreamKey, n int) feed.Event {
	t.Helper()
	ev, err := feed.NewEvent[payload](key, feed.Insert, feed.EntityMessage, nil, &payload{N: n})
	require.NoError(t, err)
	return ev
}

func receive(t *testing.T, ch <-chan feed.Event) feed.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return feed.Event{}
	}
}

func TestRedisBroker_PatternRouting(t *testing.T) {
	tr := testutil.SetupTestRedis(t)
	defer tr.Teardown(t)

	b := NewRedisBroker(tr.Client)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := b.Subscribe(ctx, "messages:*")
	require.NoError(t, err)
	all, err := b.Subscribe(ctx, "*")
	require.NoError(t, err)

	channelKey := feed.ChannelKey(uuid.New())
	require.NoError(t, b.Publish(ctx, event(t, feed.PresenceKey, 1)))
	require.NoError(t, b.Publish(ctx, event(t, channelKey, 2)))

	got := receive(t, messages)
	assert.Equal(t, channelKey, got.Stream)

	first := receive(t, all)
	second := receive(t, all)
	assert.Equal(t, feed.PresenceKey, first.Stream)
	assert.Equal(t, channelKey, second.Stream)
}

func TestRedisBroker_PreservesStreamOrder(t *testing.T) {
	tr := testutil.SetupTestRedis(t)
	defer tr.Teardown(t)

	b := NewRedisBroker(tr.Client)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := feed.ChannelKey(uuid.New())
	sub, err := b.Subscribe(ctx, string(key))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(ctx, event(t, key, i)))
	}
	for i := 0; i < 10; i++ {
		c, err := feed.Decode[payload](receive(t, sub))
		require.NoError(t, err)
		assert.Equal(t, i, c.New.N)
	}
}

func TestRedisBroker_ClosesOnCancel(t *testing.T) {
	tr := testutil.SetupTestRedis(t)
	defer tr.Teardown(t)

	b := NewRedisBroker(tr.Client)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := b.Subscribe(ctx, "*")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}

	require.NoError(t, b.Close())
	_, err = b.Subscribe(context.Background(), "*")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMatchAny(t *testing.T) {
	key := string(feed.ChannelKey(uuid.New()))
	assert.True(t, matchAny([]string{"messages:*"}, key))
	assert.True(t, matchAny([]string{"dm:*", "*"}, key))
	assert.False(t, matchAny([]string{"dm:*"}, key))
	assert.True(t, matchAny([]string{"presence"}, "presence"))
}
