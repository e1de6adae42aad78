package wal

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(t *testing.T, content string) feed.Event {
	t.Helper()
	type row struct {
		Content string `json:"content"`
	}
	ev, err := feed.NewEvent[row](feed.ChannelKey(uuid.New()), feed.Insert, feed.EntityMessage, nil, &row{Content: content})
	require.NoError(t, err)
	return ev
}

func openTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.wal")
	w, err := NewWAL(path)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, path
}

func TestWAL_AppendAndAck(t *testing.T) {
	w, _ := openTestWAL(t)

	e1, e2, e3 := newEvent(t, "one"), newEvent(t, "two"), newEvent(t, "three")
	for _, ev := range []feed.Event{e1, e2, e3} {
		require.NoError(t, w.Append(ev))
	}

	pending, err := w.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, e1.ID, pending[0].Event.ID)

	require.NoError(t, w.Ack(e1.ID, e3.ID))

	pending, err = w.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, e2.ID, pending[0].Event.ID)
	assert.JSONEq(t, string(e2.New), string(pending[0].Event.New))
}

// Appends after a compaction must land in the replaced file, not the unlinked one.
func TestWAL_AppendAfterAck(t *testing.T) {
	w, _ := openTestWAL(t)

	first := newEvent(t, "first")
	require.NoError(t, w.Append(first))
	require.NoError(t, w.Ack(first.ID))

	second := newEvent(t, "second")
	require.NoError(t, w.Append(second))

	pending, err := w.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].Event.ID)
}

func TestWAL_AckUnknownIsNoop(t *testing.T) {
	w, _ := openTestWAL(t)
	ev := newEvent(t, "kept")
	require.NoError(t, w.Append(ev))

	require.NoError(t, w.Ack("missing"))
	require.NoError(t, w.Ack())

	pending, err := w.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestWAL_SurvivesReopen(t *testing.T) {
	w, path := openTestWAL(t)
	ev := newEvent(t, "durable")
	require.NoError(t, w.Append(ev))
	require.NoError(t, w.Close())

	reopened, err := NewWAL(path)
	require.NoError(t, err)
	defer reopened.Close()

	pending, err := reopened.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].Event.ID)
}

func TestWAL_SkipsTornTail(t *testing.T) {
	w, path := openTestWAL(t)
	ev := newEvent(t, "whole")
	require.NoError(t, w.Append(ev))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event":{"id":"tor`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	pending, err := w.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ev.ID, pending[0].Event.ID)
}

func TestWAL_ConcurrentAppend(t *testing.T) {
	w, _ := openTestWAL(t)

	events := make([]feed.Event, 20)
	for i := range events {
		events[i] = newEvent(t, "concurrent")
	}

	var wg sync.WaitGroup
	for _, ev := range events {
		wg.Add(1)
		go func(ev feed.Event) {
			defer wg.Done()
			assert.NoError(t, w.Append(ev))
		}(ev)
	}
	wg.Wait()

	pending, err := w.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 20)
}
