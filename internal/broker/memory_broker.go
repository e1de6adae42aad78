package broker

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/pkg/logger"
	"go.uber.org/zap"
)

// MemoryBroker delivers events inside one process. It serves single-node
// development setups and tests.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	patterns []string
	out      chan feed.Event
	once     sync.Once
}

func (s *memorySub) close() {
	s.once.Do(func() { close(s.out) })
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[*memorySub]struct{})}
}

// Publish hands ev to every matching subscriber. A subscriber whose buffer is
// full misses the event.
func (b *MemoryBroker) Publish(ctx context.Context, ev feed.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs {
		if !matchAny(sub.patterns, string(ev.Stream)) {
			continue
		}
		select {
		case sub.out <- ev:
		default:
			logger.Log.Warn("Subscriber buffer full, event dropped",
				zap.String("event_id", ev.ID),
				zap.String("stream", string(ev.Stream)),
			)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, patterns ...string) (<-chan feed.Event, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("subscribe: no patterns")
	}
	for _, pat := range patterns {
		if _, err := path.Match(pat, ""); err != nil {
			return nil, fmt.Errorf("subscribe: bad pattern %q: %w", pat, err)
		}
	}

	sub := &memorySub{patterns: patterns, out: make(chan feed.Event, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			sub.close()
		}
		b.mu.Unlock()
	}()

	return sub.out, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		sub.close()
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (b *MemoryBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
