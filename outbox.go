// Package outbox is the public facade of the transactional outbox module.
// New wires the subsystems an embedding application needs together, and
// Outbox.Schedule is the write-side entry point called from inside the
// application's own database transaction.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/ctxcollect"
	"github.com/relaykit/outbox/internal/hashing"
	"github.com/relaykit/outbox/internal/outboxerr"
	"github.com/relaykit/outbox/internal/registry"
	"github.com/relaykit/outbox/internal/repository"
)

// Outbox is the write-side entry point. One Schedule call persists one
// Record per handler discovered for the payload; nothing is invoked
// synchronously.
type Outbox struct {
	records   repository.RecordRepository
	registry  *registry.Registry
	collector *ctxcollect.Collector
	logger    *slog.Logger
	now       func() time.Time
}

// New builds an Outbox over records and reg. collector may be nil, in which
// case Schedule's extra_context passes through with no provider-contributed
// metadata merged in.
func New(records repository.RecordRepository, reg *registry.Registry, collector *ctxcollect.Collector, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = ctxcollect.New(logger)
	}
	return &Outbox{records: records, registry: reg, collector: collector, logger: logger, now: time.Now}
}

// Schedule persists one Record per handler discovered for payload, within
// the transaction already carried by ctx. Steps, in order:
//
//  1. If the configured repository can report whether ctx carries an active
//     transaction and says it doesn't, Schedule fails with
//     ErrNoActiveTransaction. Repositories that can't express this (the
//     in-memory adapter, for instance) skip the check.
//  2. Handlers for payload are discovered through the registry's exact
//     type, supertype and generic tiers.
//  3. If no handler was found, Schedule is a no-op: it returns nil without
//     writing anything.
//  4. key defaults to a generated id when empty and doubles as the
//     partition hash input, so records sharing a key always land on the
//     same partition regardless of which handler processes them.
//  5. extraContext is merged with every registered context provider's
//     contribution, extraContext winning on conflict, and stored
//     identically on every record this call produces.
func (o *Outbox) Schedule(ctx context.Context, payload any, key string, extraContext map[string]string) error {
	if checker, ok := o.records.(repository.TransactionChecker); ok {
		if !checker.InTransaction(ctx) {
			return outboxerr.ErrNoActiveTransaction
		}
	}

	handlers := o.registry.Discover(payload)
	if len(handlers) == 0 {
		o.logger.Debug("schedule: no handler registered for payload, skipping",
			"payload_type", typeNameOf(payload),
		)
		return nil
	}

	if key == "" {
		key = uuid.NewString()
	}
	partition := hashing.PartitionOf(key)
	mergedContext := o.collector.Collect(ctx, extraContext)
	now := o.now()
	payloadType := typeNameOf(payload)

	for _, h := range handlers {
		record := &core.Record{
			ID:          uuid.NewString(),
			Key:         key,
			Payload:     payload,
			PayloadType: payloadType,
			Context:     mergedContext,
			HandlerID:   h.ID(),
			Partition:   partition,
			Status:      core.StatusNew,
			CreatedAt:   now,
			NextRetryAt: now,
		}
		if err := o.records.Insert(ctx, record); err != nil {
			return fmt.Errorf("outbox: scheduling record for handler %q: %w", h.ID(), err)
		}
	}
	return nil
}

// typeNameOf returns the fully qualified Go type name of payload's concrete
// value (package path + type name), the same naming resilience.TypeNameOf
// uses for error classification so PayloadType and an FQN classifier's
// include/exclude entries read consistently.
func typeNameOf(payload any) string {
	t := reflect.TypeOf(payload)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}
