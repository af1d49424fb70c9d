// Package repository declares the persistence contracts the outbox core
// consumes. Every concrete storage backend under internal/adapters
// implements these interfaces; the core packages never import a backend
// directly.
package repository

import (
	"context"
	"time"

	"github.com/relaykit/outbox/internal/core"
)

// RecordRepository persists and queries outbox records. Every mutating
// method must be called with a ctx that already carries an active
// transaction when invoked from Schedule; the scheduler's own polling and
// completion paths run their own short transactions.
type RecordRepository interface {
	Insert(ctx context.Context, record *core.Record) error
	UpdateStatus(ctx context.Context, record *core.Record) error
	FindEligible(ctx context.Context, partitions []int, limit int) ([]*core.Record, error)
	FindOpenByKey(ctx context.Context, key string, olderThan time.Time) ([]*core.Record, error)
	DeleteByStatus(ctx context.Context, status core.Status, olderThan time.Time) (int, error)
}

// InstanceRepository persists cluster membership.
type InstanceRepository interface {
	Register(ctx context.Context, instance *core.Instance) error
	Heartbeat(ctx context.Context, instanceID string, at time.Time) error
	MarkShuttingDown(ctx context.Context, instanceID string) error
	Delete(ctx context.Context, instanceID string) error
	ListActive(ctx context.Context) ([]*core.Instance, error)
	DeleteStale(ctx context.Context, cutoff time.Time) ([]string, error)
}

// TransactionChecker is implemented by repositories whose backing store
// can tell whether ctx already carries an active transaction. Schedule
// uses it to enforce the "must run inside the caller's transaction"
// precondition when the adapter is able to express it; adapters that
// don't implement it (e.g. the in-memory one) skip the check.
type TransactionChecker interface {
	InTransaction(ctx context.Context) bool
}

// PartitionRepository persists the fixed 256-row partition assignment
// table, mutated only through optimistic-concurrency writes keyed on
// PartitionAssignment.Version.
type PartitionRepository interface {
	Bootstrap(ctx context.Context) error
	List(ctx context.Context) ([]*core.PartitionAssignment, error)
	Claim(ctx context.Context, partition int, instanceID string, expectedVersion int64) error
	Release(ctx context.Context, partition int, expectedVersion int64) error
	AssignedTo(ctx context.Context, instanceID string) ([]*core.PartitionAssignment, error)
}
