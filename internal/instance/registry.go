// Package instance implements the instance registry: cluster membership
// bookkeeping via register/heartbeat/stale-cleanup/graceful-shutdown.
package instance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/outboxerr"
	"github.com/relaykit/outbox/internal/repository"
)

// Config controls heartbeat cadence, staleness detection and shutdown.
type Config struct {
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	// GracefulShutdownTimeout is how long Shutdown waits, after marking this
	// instance SHUTTING_DOWN, before deleting its row. The pause gives the
	// partition coordinator's next rebalance a chance to observe the
	// transition and release this instance's partitions before they vanish
	// from the membership list entirely.
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig mirrors the defaults in the configuration table: a 5s
// heartbeat, a 30s staleness window (six missed beats), and a 15s
// shutdown grace period.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:       5 * time.Second,
		StaleAfter:              30 * time.Second,
		GracefulShutdownTimeout: 15 * time.Second,
	}
}

// Registry tracks this process's membership row and can sweep stale rows
// left behind by instances that crashed without shutting down cleanly.
type Registry struct {
	repo   repository.InstanceRepository
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	sleep  func(time.Duration)

	self *core.Instance
}

// New builds a Registry over repo.
func New(repo repository.InstanceRepository, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, cfg: cfg, logger: logger, now: time.Now, sleep: time.Sleep}
}

// Register creates this process's row and returns the assigned instance.
// The instance id is generated here, never supplied by the caller, so two
// processes can never collide on one.
func (r *Registry) Register(ctx context.Context, hostname string, port int) (*core.Instance, error) {
	now := r.now()
	self := &core.Instance{
		InstanceID:    uuid.NewString(),
		Hostname:      hostname,
		Port:          port,
		Status:        core.InstanceActive,
		StartedAt:     now,
		LastHeartbeat: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.repo.Register(ctx, self); err != nil {
		return nil, err
	}
	r.self = self
	return self, nil
}

// Heartbeat refreshes this instance's LastHeartbeat. Callers run this on
// Config.HeartbeatInterval via the scheduler's timer loop. If the row was
// swept as stale by another process before this heartbeat landed, the
// instance re-registers under the same instance id rather than staying
// silently absent from membership until the next restart.
func (r *Registry) Heartbeat(ctx context.Context) error {
	if r.self == nil {
		return nil
	}
	now := r.now()
	err := r.repo.Heartbeat(ctx, r.self.InstanceID, now)
	if err == nil {
		r.self.LastHeartbeat = now
		return nil
	}
	if !errors.Is(err, outboxerr.ErrInstanceNotFound) {
		return err
	}

	r.logger.Warn("instance row missing on heartbeat, re-registering",
		"instance_id", r.self.InstanceID,
	)
	self := *r.self
	self.Status = core.InstanceActive
	self.LastHeartbeat = now
	self.UpdatedAt = now
	if err := r.repo.Register(ctx, &self); err != nil {
		return err
	}
	r.self = &self
	return nil
}

// Self returns the instance row registered by this process, or nil before
// Register has been called.
func (r *Registry) Self() *core.Instance {
	return r.self
}

// Shutdown marks this instance SHUTTING_DOWN, waits out
// Config.GracefulShutdownTimeout, then deletes its row. The pause gives
// rebalance cycles a chance to run while the row reads SHUTTING_DOWN: this
// instance's own coordinator no longer counts it active and releases its
// partitions, and other instances treat any it still owns as stale and
// claim them.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.self == nil {
		return nil
	}
	if err := r.repo.MarkShuttingDown(ctx, r.self.InstanceID); err != nil {
		return err
	}
	if r.cfg.GracefulShutdownTimeout > 0 {
		r.sleep(r.cfg.GracefulShutdownTimeout)
	}
	return r.repo.Delete(ctx, r.self.InstanceID)
}

// SweepStale deletes every instance whose heartbeat is older than
// Config.StaleAfter. Stale rows are deleted directly rather than marked
// DEAD: a dead row with no further purpose only complicates every reader
// that lists "active" instances.
func (r *Registry) SweepStale(ctx context.Context) ([]string, error) {
	cutoff := r.now().Add(-r.cfg.StaleAfter)
	removed, err := r.repo.DeleteStale(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		r.logger.Info("removed stale instances", "count", len(removed), "instance_ids", removed)
	}
	return removed, nil
}

// ListActive returns the instances whose status is ACTIVE; instances marked
// SHUTTING_DOWN are not included.
func (r *Registry) ListActive(ctx context.Context) ([]*core.Instance, error) {
	return r.repo.ListActive(ctx)
}
