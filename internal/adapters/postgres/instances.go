package postgres

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/metrics"
	"github.com/relaykit/outbox/internal/outboxerr"
)

// InstanceRepository implements repository.InstanceRepository against the
// outbox_instances table.
type InstanceRepository struct {
	pool    *Pool
	metrics *metrics.RepositoryMetrics
}

func NewInstanceRepository(pool *Pool, reg prometheus.Registerer) *InstanceRepository {
	return &InstanceRepository{pool: pool, metrics: metrics.NewRepositoryMetrics(reg, "postgres_instances")}
}

func (r *InstanceRepository) observe(op string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.QueryErrors.WithLabelValues(op).Inc()
	}
}

func (r *InstanceRepository) Register(ctx context.Context, instance *core.Instance) error {
	start := time.Now()
	q := r.pool.querierFrom(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO outbox_instances
			(instance_id, hostname, port, status, started_at, last_heartbeat, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, instance.InstanceID, instance.Hostname, instance.Port, instance.Status,
		instance.StartedAt, instance.LastHeartbeat, instance.CreatedAt, instance.UpdatedAt)
	r.observe("register", start, err)
	if err != nil {
		return outboxerr.NewRepositoryError("register", err)
	}
	return nil
}

func (r *InstanceRepository) Heartbeat(ctx context.Context, instanceID string, at time.Time) error {
	start := time.Now()
	q := r.pool.querierFrom(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE outbox_instances SET last_heartbeat = $1, updated_at = $1 WHERE instance_id = $2
	`, at, instanceID)
	if err == nil && tag.RowsAffected() == 0 {
		err = outboxerr.ErrInstanceNotFound
	}
	r.observe("heartbeat", start, err)
	if err != nil {
		return outboxerr.NewRepositoryError("heartbeat", err)
	}
	return nil
}

func (r *InstanceRepository) MarkShuttingDown(ctx context.Context, instanceID string) error {
	start := time.Now()
	q := r.pool.querierFrom(ctx)
	_, err := q.Exec(ctx, `
		UPDATE outbox_instances SET status = $1 WHERE instance_id = $2
	`, core.InstanceShuttingDown, instanceID)
	r.observe("mark_shutting_down", start, err)
	if err != nil {
		return outboxerr.NewRepositoryError("mark_shutting_down", err)
	}
	return nil
}

func (r *InstanceRepository) Delete(ctx context.Context, instanceID string) error {
	start := time.Now()
	q := r.pool.querierFrom(ctx)
	_, err := q.Exec(ctx, `DELETE FROM outbox_instances WHERE instance_id = $1`, instanceID)
	r.observe("delete", start, err)
	if err != nil {
		return outboxerr.NewRepositoryError("delete", err)
	}
	return nil
}

func (r *InstanceRepository) ListActive(ctx context.Context) ([]*core.Instance, error) {
	start := time.Now()
	q := r.pool.querierFrom(ctx)
	rows, err := q.Query(ctx, `
		SELECT instance_id, hostname, port, status, started_at, last_heartbeat, created_at, updated_at
		FROM outbox_instances WHERE status = $1
	`, core.InstanceActive)
	r.observe("list_active", start, err)
	if err != nil {
		return nil, outboxerr.NewRepositoryError("list_active", err)
	}
	defer rows.Close()

	var out []*core.Instance
	for rows.Next() {
		var inst core.Instance
		if err := rows.Scan(&inst.InstanceID, &inst.Hostname, &inst.Port, &inst.Status,
			&inst.StartedAt, &inst.LastHeartbeat, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, outboxerr.NewRepositoryError("scan", err)
		}
		out = append(out, &inst)
	}
	return out, rows.Err()
}

func (r *InstanceRepository) DeleteStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	start := time.Now()
	q := r.pool.querierFrom(ctx)
	rows, err := q.Query(ctx, `
		DELETE FROM outbox_instances WHERE last_heartbeat < $1 RETURNING instance_id
	`, cutoff)
	r.observe("delete_stale", start, err)
	if err != nil {
		return nil, outboxerr.NewRepositoryError("delete_stale", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, outboxerr.NewRepositoryError("scan", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
