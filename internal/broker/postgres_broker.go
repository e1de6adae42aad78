package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// notifyChannel is the LISTEN/NOTIFY channel shared by every stream.
const notifyChannel = "teamchat_feed"

// maxNotifyPayload stays under Postgres' 8000 byte NOTIFY limit.
const maxNotifyPayload = 7900

var ErrPayloadTooLarge = errors.New("feed event exceeds NOTIFY payload limit")

// PostgresBroker implements Broker with LISTEN/NOTIFY. Every subscriber holds a
// dedicated pooled connection and filters streams locally.
type PostgresBroker struct {
	pool *pgxpool.Pool
}

func NewPostgresBroker(ctx context.Context, databaseURL string) (*PostgresBroker, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	return &PostgresBroker{pool: pool}, nil
}

func (p *PostgresBroker) Publish(ctx context.Context, ev feed.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if len(data) > maxNotifyPayload {
		return fmt.Errorf("%w: %d bytes on %s", ErrPayloadTooLarge, len(data), ev.Stream)
	}
	_, err = p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(data))
	return err
}

func (p *PostgresBroker) Subscribe(ctx context.Context, patterns ...string) (<-chan feed.Event, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("subscribe: no patterns")
	}
	for _, pat := range patterns {
		if _, err := path.Match(pat, ""); err != nil {
			return nil, fmt.Errorf("subscribe: bad pattern %q: %w", pat, err)
		}
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	out := make(chan feed.Event, subscriberBuffer)

	go func() {
		defer close(out)
		defer func() {
			// the connection goes back to the pool; it must not keep listening
			_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Log.Error("Feed listener stopped", zap.Error(err))
				}
				return
			}

			var ev feed.Event
			if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
				logger.Log.Warn("Dropping malformed feed event", zap.Error(err))
				continue
			}
			if !matchAny(patterns, string(ev.Stream)) {
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (p *PostgresBroker) Close() error {
	p.pool.Close()
	return nil
}

func matchAny(patterns []string, key string) bool {
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, key); ok {
			return true
		}
	}
	return false
}
