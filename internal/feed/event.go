package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the row-level change carried by an event.
type Kind string

const (
	Insert Kind = "insert"
	Update Kind = "update"
	Delete Kind = "delete"
)

// Entity names the table an event describes.
type Entity string

const (
	EntityMessage       Entity = "message"
	EntityDirectMessage Entity = "direct_message"
	EntityNotification  Entity = "notification"
	EntityPresence      Entity = "presence"
	EntityMembership    Entity = "membership"
)

// Event is one change on one stream. Old is empty for inserts and New is the
// tombstoned row for soft deletes. ID is stable across redeliveries.
type Event struct {
	ID     string          `json:"id"`
	Stream StreamKey       `json:"stream"`
	Kind   Kind            `json:"kind"`
	Entity Entity          `json:"entity"`
	Old    json.RawMessage `json:"old,omitempty"`
	New    json.RawMessage `json:"new,omitempty"`
	At     time.Time       `json:"at"`
}

// NewEvent builds an event, encoding the row images. A nil image is omitted.
func NewEvent[T any](stream StreamKey, kind Kind, entity Entity, oldRow, newRow *T) (Event, error) {
	ev := Event{
		ID:     uuid.NewString(),
		Stream: stream,
		Kind:   kind,
		Entity: entity,
		At:     time.Now().UTC(),
	}
	var err error
	if oldRow != nil {
		if ev.Old, err = json.Marshal(oldRow); err != nil {
			return Event{}, fmt.Errorf("encode old row: %w", err)
		}
	}
	if newRow != nil {
		if ev.New, err = json.Marshal(newRow); err != nil {
			return Event{}, fmt.Errorf("encode new row: %w", err)
		}
	}
	return ev, nil
}

// Change is an event decoded into concrete row types.
type Change[T any] struct {
	ID     string
	Stream StreamKey
	Kind   Kind
	Old    *T
	New    *T
	At     time.Time
}

// Current returns the most recent row image: New when present, otherwise Old.
func (c Change[T]) Current() *T {
	if c.New != nil {
		return c.New
	}
	return c.Old
}

// Decode converts ev into a typed change. Inserts must carry New.
func Decode[T any](ev Event) (Change[T], error) {
	c := Change[T]{ID: ev.ID, Stream: ev.Stream, Kind: ev.Kind, At: ev.At}

	switch ev.Kind {
	case Insert, Update, Delete:
	default:
		return c, fmt.Errorf("unknown change kind %q", ev.Kind)
	}

	if len(ev.Old) > 0 && string(ev.Old) != "null" {
		c.Old = new(T)
		if err := json.Unmarshal(ev.Old, c.Old); err != nil {
			return c, fmt.Errorf("decode old row: %w", err)
		}
	}
	if len(ev.New) > 0 && string(ev.New) != "null" {
		c.New = new(T)
		if err := json.Unmarshal(ev.New, c.New); err != nil {
			return c, fmt.Errorf("decode new row: %w", err)
		}
	}

	if ev.Kind == Insert && c.New == nil {
		return c, fmt.Errorf("insert event %s without row", ev.ID)
	}
	if c.New == nil && c.Old == nil {
		return c, fmt.Errorf("%s event %s without row", ev.Kind, ev.ID)
	}
	return c, nil
}
