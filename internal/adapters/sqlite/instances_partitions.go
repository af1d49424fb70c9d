package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/outboxerr"
)

// InstanceRepository implements repository.InstanceRepository for sqlite.
type InstanceRepository struct{ db *sql.DB }

func NewInstanceRepository(db *sql.DB) *InstanceRepository { return &InstanceRepository{db: db} }

func (r *InstanceRepository) Register(ctx context.Context, instance *core.Instance) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_instances (instance_id, hostname, port, status, started_at, last_heartbeat, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)
	`, instance.InstanceID, instance.Hostname, instance.Port, instance.Status,
		instance.StartedAt, instance.LastHeartbeat, instance.CreatedAt, instance.UpdatedAt)
	if err != nil {
		return outboxerr.NewRepositoryError("register", err)
	}
	return nil
}

func (r *InstanceRepository) Heartbeat(ctx context.Context, instanceID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox_instances SET last_heartbeat = ?, updated_at = ? WHERE instance_id = ?`, at, at, instanceID)
	if err == nil {
		if n, _ := res.RowsAffected(); n == 0 {
			err = outboxerr.ErrInstanceNotFound
		}
	}
	if err != nil {
		return outboxerr.NewRepositoryError("heartbeat", err)
	}
	return nil
}

func (r *InstanceRepository) MarkShuttingDown(ctx context.Context, instanceID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_instances SET status = ? WHERE instance_id = ?`, core.InstanceShuttingDown, instanceID)
	if err != nil {
		return outboxerr.NewRepositoryError("mark_shutting_down", err)
	}
	return nil
}

func (r *InstanceRepository) Delete(ctx context.Context, instanceID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM outbox_instances WHERE instance_id = ?`, instanceID)
	if err != nil {
		return outboxerr.NewRepositoryError("delete", err)
	}
	return nil
}

func (r *InstanceRepository) ListActive(ctx context.Context) ([]*core.Instance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT instance_id, hostname, port, status, started_at, last_heartbeat, created_at, updated_at
		FROM outbox_instances WHERE status = ?
	`, core.InstanceActive)
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
	rows, err := r.db.QueryContext(ctx, `SELECT instance_id FROM outbox_instances WHERE last_heartbeat < ?`, cutoff)
	if err != nil {
		return nil, outboxerr.NewRepositoryError("delete_stale_select", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, outboxerr.NewRepositoryError("scan", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM outbox_instances WHERE last_heartbeat < ?`, cutoff); err != nil {
		return nil, outboxerr.NewRepositoryError("delete_stale", err)
	}
	return ids, nil
}

// PartitionRepository implements repository.PartitionRepository for sqlite.
// sqlite's single-writer model makes the optimistic-concurrency check a
// plain UPDATE ... WHERE version = ?, same as postgres.
type PartitionRepository struct{ db *sql.DB }

func NewPartitionRepository(db *sql.DB) *PartitionRepository { return &PartitionRepository{db: db} }

func (r *PartitionRepository) Bootstrap(ctx context.Context) error {
	for i := 0; i < core.TotalPartitions; i++ {
		if _, err := r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO outbox_partitions (partition_number, instance_id, version, updated_at)
			VALUES (?, NULL, 0, ?)
		`, i, time.Now()); err != nil {
			return outboxerr.NewRepositoryError("bootstrap", err)
		}
	}
	return nil
}

func (r *PartitionRepository) List(ctx context.Context) ([]*core.PartitionAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT partition_number, COALESCE(instance_id, ''), version, updated_at FROM outbox_partitions`)
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
	return r.casUpdate(ctx, partition, instanceID, expectedVersion)
}

func (r *PartitionRepository) Release(ctx context.Context, partition int, expectedVersion int64) error {
	return r.casUpdate(ctx, partition, "", expectedVersion)
}

func (r *PartitionRepository) casUpdate(ctx context.Context, partition int, instanceID string, expectedVersion int64) error {
	var newOwner any
	if instanceID != "" {
		newOwner = instanceID
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_partitions SET instance_id = ?, version = version + 1, updated_at = ?
		WHERE partition_number = ? AND version = ?
	`, newOwner, time.Now(), partition, expectedVersion)
	if err != nil {
		return outboxerr.NewRepositoryError("cas_update", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return outboxerr.ErrConcurrencyConflict
	}
	return nil
}

func (r *PartitionRepository) AssignedTo(ctx context.Context, instanceID string) ([]*core.PartitionAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT partition_number, instance_id, version, updated_at FROM outbox_partitions WHERE instance_id = ?`, instanceID)
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
