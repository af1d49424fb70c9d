package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaykit/outbox/internal/instance"
	"github.com/relaykit/outbox/internal/partition"
)

// RebalancerConfig controls how often the coordinator's rebalance cycle
// runs and how often this instance's heartbeat is refreshed.
type RebalancerConfig struct {
	RebalanceInterval time.Duration
	HeartbeatInterval time.Duration
	StaleSweepInterval time.Duration
}

// DefaultRebalancerConfig mirrors the configuration table's defaults.
func DefaultRebalancerConfig() RebalancerConfig {
	return RebalancerConfig{
		RebalanceInterval:  10 * time.Second,
		HeartbeatInterval:  5 * time.Second,
		StaleSweepInterval: 30 * time.Second,
	}
}

// Rebalancer drives the coordinator's rebalance cycle and the instance
// registry's heartbeat and stale-cleanup on independent timers, since each
// has a different natural cadence.
type Rebalancer struct {
	Coordinator *partition.Coordinator
	Instances   *instance.Registry
	Config      RebalancerConfig
	Logger      *slog.Logger

	stopCh chan struct{}
}

func (r *Rebalancer) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Start runs the heartbeat, stale-sweep and rebalance timers until ctx is
// cancelled or Stop is called.
func (r *Rebalancer) Start(ctx context.Context) {
	r.stopCh = make(chan struct{})

	go r.loop(ctx, r.Config.HeartbeatInterval, func() {
		if err := r.Instances.Heartbeat(ctx); err != nil {
			r.logger().Error("heartbeat failed", "error", err)
		}
	})
	go r.loop(ctx, r.Config.StaleSweepInterval, func() {
		if _, err := r.Instances.SweepStale(ctx); err != nil {
			r.logger().Error("stale instance sweep failed", "error", err)
		}
	})
	go r.loop(ctx, r.Config.RebalanceInterval, func() {
		if err := r.Coordinator.Rebalance(ctx); err != nil {
			r.logger().Error("rebalance cycle failed", "error", err)
		}
	})
}

// Stop signals every timer loop to exit.
func (r *Rebalancer) Stop() {
	if r.stopCh != nil {
		close(r.stopCh)
	}
}

func (r *Rebalancer) loop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			fn()
		}
	}
}
