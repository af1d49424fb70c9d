package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/repository"
)

// HousekeeperConfig controls how often terminal records are swept and how
// long they are retained for inspection before deletion.
type HousekeeperConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

// DefaultHousekeeperConfig sweeps hourly, retaining terminal records for
// seven days.
func DefaultHousekeeperConfig() HousekeeperConfig {
	return HousekeeperConfig{Interval: time.Hour, Retention: 7 * 24 * time.Hour}
}

// Housekeeper periodically deletes COMPLETED and FAILED records older than
// the retention window, keeping the outbox table bounded without losing
// recent history operators might need for debugging.
type Housekeeper struct {
	Records repository.RecordRepository
	Config  HousekeeperConfig
	Logger  *slog.Logger
	Now     func() time.Time

	stopCh chan struct{}
}

func (h *Housekeeper) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Housekeeper) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (h *Housekeeper) Start(ctx context.Context) {
	h.stopCh = make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.Config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.sweep(ctx)
			}
		}
	}()
}

// Stop signals the sweep loop to exit.
func (h *Housekeeper) Stop() {
	if h.stopCh != nil {
		close(h.stopCh)
	}
}

func (h *Housekeeper) sweep(ctx context.Context) {
	cutoff := h.now().Add(-h.Config.Retention)
	for _, status := range []core.Status{core.StatusCompleted, core.StatusFailed} {
		n, err := h.Records.DeleteByStatus(ctx, status, cutoff)
		if err != nil {
			h.logger().Error("housekeeping sweep failed", "status", status, "error", err)
			continue
		}
		if n > 0 {
			h.logger().Info("housekeeping swept records", "status", status, "count", n)
		}
	}
}
