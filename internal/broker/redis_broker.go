package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// channelPrefix namespaces feed channels on a shared Redis.
const channelPrefix = "feed:"

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// RedisBroker implements Broker with Redis pub/sub, one Redis channel per stream key.
type RedisBroker struct {
	client *redis.Client

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{
		client: client,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func (r *RedisBroker) Publish(ctx context.Context, ev feed.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channelPrefix+string(ev.Stream), data).Err()
}

func (r *RedisBroker) Subscribe(ctx context.Context, patterns ...string) (<-chan feed.Event, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("subscribe: no patterns")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	channels := make([]string, len(patterns))
	for i, p := range patterns {
		channels[i] = channelPrefix + p
	}

	pubsub := r.client.PSubscribe(ctx, channels...)

	// Wait for every subscription confirmation so no event published after
	// Subscribe returns can be missed.
	for confirmed := 0; confirmed < len(channels); {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("psubscribe: %w", err)
		}
		if _, ok := msg.(*redis.Subscription); ok {
			confirmed++
		}
	}

	r.mu.Lock()
	r.subs[pubsub] = struct{}{}
	r.mu.Unlock()

	out := make(chan feed.Event, subscriberBuffer)

	go func() {
		defer close(out)
		defer r.release(pubsub)

		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case redisMsg, ok := <-in:
				if !ok {
					return
				}

				var ev feed.Event
				if err := json.Unmarshal([]byte(redisMsg.Payload), &ev); err != nil {
					logger.Log.Warn("Dropping malformed feed event",
						zap.String("channel", redisMsg.Channel),
						zap.Error(err),
					)
					continue
				}

				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *RedisBroker) release(pubsub *redis.PubSub) {
	r.mu.Lock()
	delete(r.subs, pubsub)
	r.mu.Unlock()
	_ = pubsub.Close()
}

// Close ends every subscription. The Redis client is owned by the caller.
func (r *RedisBroker) Close() error {
	r.mu.Lock()
	r.closed = true
	subs := make([]*redis.PubSub, 0, len(r.subs))
	for ps := range r.subs {
		subs = append(subs, ps)
	}
	r.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	return nil
}
