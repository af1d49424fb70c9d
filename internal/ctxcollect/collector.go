// Package ctxcollect merges metadata contributed by registered context
// providers into the extra_context map stored on every Record.
package ctxcollect

import (
	"context"
	"log/slog"
)

// Provider contributes key/value metadata derived from the ambient
// context.Context, e.g. a trace id or an authenticated principal.
type Provider interface {
	Name() string
	Collect(ctx context.Context) (map[string]string, error)
}

// Collector runs every registered Provider and merges their output.
type Collector struct {
	providers []Provider
	logger    *slog.Logger
}

// New builds a Collector over providers, in registration order.
func New(logger *slog.Logger, providers ...Provider) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{providers: providers, logger: logger}
}

// Collect merges every provider's contribution with callerContext, which
// always wins on key conflicts: explicit caller-supplied context overrides
// anything a provider infers. A provider that returns an error is logged
// and skipped; it never aborts the collection of the others.
func (c *Collector) Collect(ctx context.Context, callerContext map[string]string) map[string]string {
	merged := make(map[string]string, len(callerContext))

	for _, p := range c.providers {
		contributed, err := p.Collect(ctx)
		if err != nil {
			c.logger.Warn("context provider failed, skipping",
				"provider", p.Name(),
				"error", err,
			)
			continue
		}
		for k, v := range contributed {
			merged[k] = v
		}
	}

	for k, v := range callerContext {
		merged[k] = v
	}

	return merged
}
