package service

import (
	"context"
	"time"

	"github.com/Baaaki/teamchat/internal/broker"
	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/metrics"
	"github.com/Baaaki/teamchat/internal/wal"
	"github.com/Baaaki/teamchat/pkg/logger"
	"go.uber.org/zap"
)

// replayGrace keeps the replay loop away from events still being published inline.
const replayGrace = 5 * time.Second

// Publisher hands committed changes to the broker. With an outbox configured
// every event is appended before publishing and acknowledged afterwards, so
// delivery is at-least-once across broker outages and restarts.
type Publisher struct {
	broker broker.Broker
	outbox *wal.WAL
	grace  time.Duration
}

func NewPublisher(b broker.Broker, outbox *wal.WAL) *Publisher {
	return &Publisher{broker: b, outbox: outbox, grace: replayGrace}
}

func (p *Publisher) Publish(ctx context.Context, ev feed.Event) error {
	queued := false
	if p.outbox != nil {
		if err := p.outbox.Append(ev); err != nil {
			logger.Log.Warn("Outbox append failed, publishing directly",
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
		} else {
			queued = true
		}
	}

	if err := p.broker.Publish(ctx, ev); err != nil {
		metrics.FeedPublishFailures.Inc()
		if queued {
			logger.Log.Warn("Broker publish failed, event left in outbox",
				zap.String("event_id", ev.ID),
				zap.String("stream", string(ev.Stream)),
				zap.Error(err),
			)
			return nil
		}
		return err
	}
	metrics.FeedEventsPublished.WithLabelValues(string(ev.Entity), string(ev.Kind)).Inc()

	if queued {
		if err := p.outbox.Ack(ev.ID); err != nil {
			// replay will publish it again; consumers dedupe by event id
			logger.Log.Warn("Outbox ack failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	return nil
}

// Replay republishes outbox entries older than the grace period and returns how many were delivered.
func (p *Publisher) Replay(ctx context.Context) (int, error) {
	if p.outbox == nil {
		return 0, nil
	}

	pending, err := p.outbox.Pending()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-p.grace)
	var delivered []string
	for _, entry := range pending {
		if entry.WrittenAt.After(cutoff) {
			continue
		}
		if err := p.broker.Publish(ctx, entry.Event); err != nil {
			logger.Log.Warn("Outbox replay stopped", zap.String("event_id", entry.Event.ID), zap.Error(err))
			break
		}
		delivered = append(delivered, entry.Event.ID)
	}

	if len(delivered) == 0 {
		return 0, nil
	}
	metrics.OutboxReplayed.Add(float64(len(delivered)))
	return len(delivered), p.outbox.Ack(delivered...)
}

// RunReplay replays the outbox every interval until ctx is done.
func (p *Publisher) RunReplay(ctx context.Context, interval time.Duration) {
	if p.outbox == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Replay(ctx)
			if err != nil {
				logger.Log.Error("Outbox replay failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Log.Info("Outbox replayed", zap.Int("events", n))
			}
		}
	}
}

// publishChange encodes and publishes one row change. Failures are logged:
// the committed row stays authoritative and subscribers refetch on reconnect.
func publishChange[T any](ctx context.Context, p *Publisher, key feed.StreamKey, kind feed.Kind, entity feed.Entity, oldRow, newRow *T) {
	if p == nil {
		return
	}
	ev, err := feed.NewEvent(key, kind, entity, oldRow, newRow)
	if err != nil {
		logger.Log.Error("Failed to encode feed event", zap.String("stream", string(key)), zap.Error(err))
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		logger.Log.Error("Failed to publish feed event",
			zap.String("stream", string(key)),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
