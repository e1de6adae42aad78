package broker

import (
	"context"
	"testing"
	"time"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker_PatternRouting(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dms, err := b.Subscribe(ctx, "dm:*")
	require.NoError(t, err)

	dmKey := feed.DirectKey(uuid.New(), uuid.New())
	require.NoError(t, b.Publish(ctx, event(t, feed.ChannelKey(uuid.New()), 1)))
	require.NoError(t, b.Publish(ctx, event(t, dmKey, 2)))

	got := receive(t, dms)
	assert.Equal(t, dmKey, got.Stream)

	select {
	case ev := <-dms:
		t.Fatalf("unexpected event on %s", ev.Stream)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBroker_CancelClosesSubscription(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "*")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestMemoryBroker_Closed(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Close())

	_, err := b.Subscribe(context.Background(), "*")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Publish(context.Background(), event(t, feed.PresenceKey, 1)), ErrClosed)
}

func TestMemoryBroker_RejectsBadPattern(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	_, err := b.Subscribe(context.Background(), "[")
	assert.Error(t, err)
}
