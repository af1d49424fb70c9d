// Package redisbus implements the cross-instance poll-trigger signal over
// redis/go-redis/v9 pub/sub, so an instance that just wrote new records can
// wake up every other instance's scheduler immediately instead of waiting
// for the next poll tick.
package redisbus

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Trigger is the subset of scheduler.Scheduler this package needs, kept
// narrow to avoid an import cycle between redisbus and scheduler.
type Trigger interface {
	Trigger()
}

// Bus publishes and subscribes to the poll-trigger channel.
type Bus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// New builds a Bus over an existing redis client.
func New(client *redis.Client, channel string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = "outbox:poll-trigger"
	}
	return &Bus{client: client, channel: channel, logger: logger}
}

// Publish notifies every subscribed instance that new work may be
// available. Failures are logged, not returned: a missed trigger only
// delays processing until the next poll tick, it never loses data.
func (b *Bus) Publish(ctx context.Context) {
	if err := b.client.Publish(ctx, b.channel, "tick").Err(); err != nil {
		b.logger.Warn("failed to publish poll trigger", "channel", b.channel, "error", err)
	}
}

// Subscribe runs until ctx is cancelled, calling target.Trigger() for every
// message received on the channel.
func (b *Bus) Subscribe(ctx context.Context, target Trigger) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			target.Trigger()
		}
	}
}
