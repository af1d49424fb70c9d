package postgres

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/metrics"
	"github.com/relaykit/outbox/internal/outboxerr"
)

// PartitionRepository implements repository.PartitionRepository against the
// outbox_partitions table, a fixed 256-row table mutated only through
// optimistic-concurrency UPDATE ... WHERE version = $expected statements.
type PartitionRepository struct {
	pool    *Pool
	metrics *metrics.RepositoryMetrics
}

func NewPartitionRepository(pool *Pool, reg prometheus.Registerer) *PartitionRepository {
	return &PartitionRepository{pool: pool, metrics: metrics.NewRepositoryMetrics(reg, "postgres_partitions")}
}

func (r *PartitionRepository) observe(op string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.QueryErrors.WithLabelValues(op).Inc()
	}
}

// Bootstrap inserts the 256 unassigned rows if the table is empty. It is
// idempotent via ON CONFLICT DO NOTHING.
func (r *PartitionRepository) Bootstrap(ctx context.Context) error {
	start := time.Now()
	q := r.pool.querierFrom(ctx)
	var err error
	for i := 0; i < core.TotalPartitions; i++ {
		_, err = q.Exec(ctx, `
			INSERT INTO outbox_partitions (partition_number, instance_id, version, updated_at)
			VALUES ($1, NULL, 0, now())
			ON CONFLICT (partition_number) DO NOTHING
		`, i)
		if err != nil {
			break
		}
	}
	r.observe("bootstrap", start, err)
	if err != nil {
		return outboxerr.NewRepositoryError("bootstrap", err)
	}
	return nil
}

func (r *PartitionRepository) List(ctx context.Context) ([]*core.PartitionAssignment, error) {
	start := time.Now()
	q := r.pool.querierFrom(ctx)
	rows, err := q.Query(ctx, `
		SELECT partition_number, COALESCE(instance_id, ''), version, updated_at FROM outbox_partitions
	`)
	r.observe("list", start, err)
	if err != nil {
		return nil, outboxerr.NewRepositoryError("list", err)
	}
	defer rows.Close()

	var out []*core.PartitionAssignment
	for rows.Next() {
		var p core.PartitionAssignment
		if err := rows.Scan(&p.PartitionNumber, &p.InstanceID, &p.Version, &p.UpdatedAt); err != nil {
			return nil, outboxerr.NewRepositoryError("scan", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *PartitionRepository) Claim(ctx context.Context, partition int, instanceID string, expectedVersion int64) error {
	return r.casUpdate(ctx, "claim", partition, instanceID, expectedVersion)
}

func (r *PartitionRepository) Release(ctx context.Context, partition int, expectedVersion int64) error {
	return r.casUpdate(ctx, "release", partition, "", expectedVersion)
}

func (r *PartitionRepository) casUpdate(ctx context.Context, op string, partition int, instanceID string, expectedVersion int64) error {
	start := time.Now()
	q := r.pool.querierFrom(ctx)

	var newOwner any
	if instanceID != "" {
		newOwner = instanceID
	}

	tag, err := q.Exec(ctx, `
		UPDATE outbox_partitions
		SET instance_id = $1, version = version + 1, updated_at = now()
		WHERE partition_number = $2 AND version = $3
	`, newOwner, partition, expectedVersion)
	r.observe(op, start, err)
	if err != nil {
		return outboxerr.NewRepositoryError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return outboxerr.ErrConcurrencyConflict
	}
	return nil
}

func (r *PartitionRepository) AssignedTo(ctx context.Context, instanceID string) ([]*core.PartitionAssignment, error) {
	start := time.Now()
	q := r.pool.querierFrom(ctx)
	rows, err := q.Query(ctx, `
		SELECT partition_number, instance_id, version, updated_at
		FROM outbox_partitions WHERE instance_id = $1
	`, instanceID)
	r.observe("assigned_to", start, err)
	if err != nil {
		return nil, outboxerr.NewRepositoryError("assigned_to", err)
	}
	defer rows.Close()

	var out []*core.PartitionAssignment
	for rows.Next() {
		var p core.PartitionAssignment
		if err := rows.Scan(&p.PartitionNumber, &p.InstanceID, &p.Version, &p.UpdatedAt); err != nil {
			return nil, outboxerr.NewRepositoryError("scan", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
