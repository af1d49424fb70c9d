package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/metrics"
	"github.com/relaykit/outbox/internal/outboxerr"
)

// RecordRepository implements repository.RecordRepository against the
// outbox_records table.
type RecordRepository struct {
	pool    *Pool
	metrics *metrics.RepositoryMetrics
}

// NewRecordRepository builds a RecordRepository, registering its query
// metrics against reg (with a nil reg the metrics are not registered with
// any registry).
func NewRecordRepository(pool *Pool, reg prometheus.Registerer) *RecordRepository {
	return &RecordRepository{pool: pool, metrics: metrics.NewRepositoryMetrics(reg, "postgres_records")}
}

func (r *RecordRepository) observe(op string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.QueryErrors.WithLabelValues(op).Inc()
	}
}

// InTransaction reports whether ctx already carries a transaction started
// with WithTx, satisfying repository.TransactionChecker.
func (r *RecordRepository) InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok
}

func (r *RecordRepository) Insert(ctx context.Context, record *core.Record) error {
	start := time.Now()
	q := r.pool.querierFrom(ctx)

	payload, err := json.Marshal(record.Payload)
	if err != nil {
		r.observe("insert", start, err)
		return outboxerr.NewRepositoryError("insert", err)
	}
	extra, err := json.Marshal(record.Context)
	if err != nil {
		r.observe("insert", start, err)
		return outboxerr.NewRepositoryError("insert", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO outbox_records
			(id, key, payload, payload_type, context, handler_id, partition,
			 status, created_at, failure_count, failure_reason, next_retry_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		record.ID, record.Key, payload, record.PayloadType, extra, record.HandlerID,
		record.Partition, record.Status, record.CreatedAt, record.FailureCount,
		record.FailureReason, record.NextRetryAt,
	)
	r.observe("insert", start, err)
	if err != nil {
		return outboxerr.NewRepositoryError("insert", err)
	}
	return nil
}

func (r *RecordRepository) UpdateStatus(ctx context.Context, record *core.Record) error {
	start := time.Now()
	q := r.pool.querierFrom(ctx)

	_, err := q.Exec(ctx, `
		UPDATE outbox_records
		SET status = $1, completed_at = $2, failure_count = $3,
		    failure_reason = $4, next_retry_at = $5
		WHERE id = $6
	`,
		record.Status, record.CompletedAt, record.FailureCount,
		record.FailureReason, record.NextRetryAt, record.ID,
	)
	r.observe("update_status", start, err)
	if err != nil {
		return outboxerr.NewRepositoryError("update_status", err)
	}
	return nil
}

func (r *RecordRepository) FindEligible(ctx context.Context, partitions []int, limit int) ([]*core.Record, error) {
	start := time.Now()
	q := r.pool.querierFrom(ctx)

	rows, err := q.Query(ctx, `
		SELECT id, key, payload, payload_type, context, handler_id, partition,
		       status, created_at, completed_at, failure_count, failure_reason, next_retry_at
		FROM outbox_records
		WHERE status = $1 AND partition = ANY($2) AND next_retry_at <= now()
		ORDER BY created_at ASC
		LIMIT $3
	`, core.StatusNew, partitions, limit)
	r.observe("find_eligible", start, err)
	if err != nil {
		return nil, outboxerr.NewRepositoryError("find_eligible", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *RecordRepository) FindOpenByKey(ctx context.Context, key string, olderThan time.Time) ([]*core.Record, error) {
	start := time.Now()
	q := r.pool.querierFrom(ctx)

	rows, err := q.Query(ctx, `
		SELECT id, key, payload, payload_type, context, handler_id, partition,
		       status, created_at, completed_at, failure_count, failure_reason, next_retry_at
		FROM outbox_records
		WHERE key = $1 AND status = $2 AND created_at < $3
	`, key, core.StatusNew, olderThan)
	r.observe("find_open_by_key", start, err)
	if err != nil {
		return nil, outboxerr.NewRepositoryError("find_open_by_key", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *RecordRepository) DeleteByStatus(ctx context.Context, status core.Status, olderThan time.Time) (int, error) {
	start := time.Now()
	q := r.pool.querierFrom(ctx)

	tag, err := q.Exec(ctx, `
		DELETE FROM outbox_records WHERE status = $1 AND created_at < $2
	`, status, olderThan)
	r.observe("delete_by_status", start, err)
	if err != nil {
		return 0, outboxerr.NewRepositoryError("delete_by_status", err)
	}
	return int(tag.RowsAffected()), nil
}

// rowScanner is the narrow subset of pgx.Rows that scanRecords uses.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecords(rows rowScanner) ([]*core.Record, error) {
	var out []*core.Record
	for rows.Next() {
		var rec core.Record
		var payloadRaw, contextRaw []byte
		if err := rows.Scan(
			&rec.ID, &rec.Key, &payloadRaw, &rec.PayloadType, &contextRaw,
			&rec.HandlerID, &rec.Partition, &rec.Status, &rec.CreatedAt,
			&rec.CompletedAt, &rec.FailureCount, &rec.FailureReason, &rec.NextRetryAt,
		); err != nil {
			return nil, outboxerr.NewRepositoryError("scan", err)
		}
		if len(payloadRaw) > 0 {
			if err := json.Unmarshal(payloadRaw, &rec.Payload); err != nil {
				return nil, outboxerr.NewRepositoryError("unmarshal_payload", err)
			}
		}
		if len(contextRaw) > 0 {
			if err := json.Unmarshal(contextRaw, &rec.Context); err != nil {
				return nil, outboxerr.NewRepositoryError("unmarshal_context", err)
			}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, outboxerr.NewRepositoryError("rows", err)
	}
	return out, nil
}
