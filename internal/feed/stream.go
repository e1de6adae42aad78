// Package feed defines the change-feed vocabulary shared by publishers and
// subscribers: stream keys and the tagged change event.
package feed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StreamType is the prefix of a stream key.
type StreamType string

const (
	StreamMessages      StreamType = "messages"
	StreamDirect        StreamType = "dm"
	StreamNotifications StreamType = "notifications"
	StreamPresence      StreamType = "presence"
)

// StreamKey names a logical change stream, for example "messages:<channelId>".
type StreamKey string

// PresenceKey is the single global presence stream.
const PresenceKey StreamKey = "presence"

// NotificationsAlias is what clients subscribe to for their own notifications.
const NotificationsAlias = "notifications"

var ErrInvalidStreamKey = errors.New("invalid stream key")

// ChannelKey returns the stream of a channel's messages.
func ChannelKey(channelID uuid.UUID) StreamKey {
	return StreamKey(string(StreamMessages) + ":" + channelID.String())
}

// DirectKey returns the stream of the conversation between a and b.
// Both participants compute the same key regardless of argument order.
func DirectKey(a, b uuid.UUID) StreamKey {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return StreamKey(string(StreamDirect) + ":" + x + "-" + y)
}

// NotificationKey returns the notification stream of a user.
func NotificationKey(userID uuid.UUID) StreamKey {
	return StreamKey(string(StreamNotifications) + ":" + userID.String())
}

// Stream is a parsed stream key.
type Stream struct {
	Type      StreamType
	ChannelID uuid.UUID    // messages
	UserID    uuid.UUID    // notifications
	Pair      [2]uuid.UUID // dm, sorted
}

// Key rebuilds the canonical key.
func (s Stream) Key() StreamKey {
	switch s.Type {
	case StreamMessages:
		return ChannelKey(s.ChannelID)
	case StreamDirect:
		return DirectKey(s.Pair[0], s.Pair[1])
	case StreamNotifications:
		return NotificationKey(s.UserID)
	default:
		return PresenceKey
	}
}

// Involves reports whether userID is a participant of a dm stream.
func (s Stream) Involves(userID uuid.UUID) bool {
	return s.Type == StreamDirect && (s.Pair[0] == userID || s.Pair[1] == userID)
}

// Parse validates a stream key. Direct keys are accepted in either id order
// and normalized.
func Parse(key string) (Stream, error) {
	if key == string(PresenceKey) {
		return Stream{Type: StreamPresence}, nil
	}

	prefix, rest, ok := strings.Cut(key, ":")
	if !ok || rest == "" {
		return Stream{}, fmt.Errorf("%w: %q", ErrInvalidStreamKey, key)
	}

	switch StreamType(prefix) {
	case StreamMessages:
		id, err := uuid.Parse(rest)
		if err != nil {
			return Stream{}, fmt.Errorf("%w: %q", ErrInvalidStreamKey, key)
		}
		return Stream{Type: StreamMessages, ChannelID: id}, nil

	case StreamNotifications:
		id, err := uuid.Parse(rest)
		if err != nil {
			return Stream{}, fmt.Errorf("%w: %q", ErrInvalidStreamKey, key)
		}
		return Stream{Type: StreamNotifications, UserID: id}, nil

	case StreamDirect:
		// two canonical uuids joined by '-'; the uuids contain '-' themselves
		const n = 36
		if len(rest) != 2*n+1 || rest[n] != '-' {
			return Stream{}, fmt.Errorf("%w: %q", ErrInvalidStreamKey, key)
		}
		a, errA := uuid.Parse(rest[:n])
		b, errB := uuid.Parse(rest[n+1:])
		if errA != nil || errB != nil || a == b {
			return Stream{}, fmt.Errorf("%w: %q", ErrInvalidStreamKey, key)
		}
		if b.String() < a.String() {
			a, b = b, a
		}
		return Stream{Type: StreamDirect, Pair: [2]uuid.UUID{a, b}}, nil
	}

	return Stream{}, fmt.Errorf("%w: %q", ErrInvalidStreamKey, key)
}
