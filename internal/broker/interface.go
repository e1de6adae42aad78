// Package broker carries change-feed events between the node that commits a
// write and every node holding subscribers for the affected stream.
package broker

import (
	"context"
	"errors"

	"github.com/Baaaki/teamchat/internal/feed"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("broker closed")

// Broker publishes feed events and fans them out to pattern subscribers.
// Patterns use glob syntax over stream keys, e.g. "messages:*" or "*".
// Events of one stream are delivered in publication order.
type Broker interface {
	Publish(ctx context.Context, ev feed.Event) error

	// Subscribe returns a channel of matching events. The channel is closed
	// when ctx is cancelled or the broker is closed.
	Subscribe(ctx context.Context, patterns ...string) (<-chan feed.Event, error)

	Close() error
}

const subscriberBuffer = 256
