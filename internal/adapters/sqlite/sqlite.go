// Package sqlite implements the repository interfaces on top of
// modernc.org/sqlite, the cgo-free driver this codebase prefers for its
// "lite" single-node deployment profile.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/outboxerr"
)

// Open creates (or attaches to) the sqlite database at path and ensures the
// three outbox tables exist.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: applying schema: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS outbox_records (
	id TEXT PRIMARY KEY,
	key TEXT NOT NULL,
	payload TEXT NOT NULL,
	payload_type TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '{}',
	handler_id TEXT NOT NULL,
	partition INTEGER NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	completed_at DATETIME,
	failure_count INTEGER NOT NULL DEFAULT 0,
	failure_reason TEXT NOT NULL DEFAULT '',
	next_retry_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_records_eligible ON outbox_records (partition, status, next_retry_at);

CREATE TABLE IF NOT EXISTS outbox_instances (
	instance_id TEXT PRIMARY KEY,
	hostname TEXT NOT NULL,
	port INTEGER NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	last_heartbeat DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox_partitions (
	partition_number INTEGER PRIMARY KEY,
	instance_id TEXT,
	version INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);
`

// RecordRepository implements repository.RecordRepository for a single
// embedded sqlite database. Every statement runs directly on the *sql.DB it
// was built with: it does not take part in a caller's *sql.Tx, and it does
// not implement repository.TransactionChecker, so Schedule's transaction
// check is skipped for it.
type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) Insert(ctx context.Context, record *core.Record) error {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return outboxerr.NewRepositoryError("insert", err)
	}
	extra, err := json.Marshal(record.Context)
	if err != nil {
		return outboxerr.NewRepositoryError("insert", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO outbox_records
			(id, key, payload, payload_type, context, handler_id, partition,
			 status, created_at, failure_count, failure_reason, next_retry_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`, record.ID, record.Key, string(payload), record.PayloadType, string(extra),
		record.HandlerID, record.Partition, record.Status, record.CreatedAt,
		record.FailureCount, record.FailureReason, record.NextRetryAt)
	if err != nil {
		return outboxerr.NewRepositoryError("insert", err)
	}
	return nil
}

func (r *RecordRepository) UpdateStatus(ctx context.Context, record *core.Record) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox_records
		SET status = ?, completed_at = ?, failure_count = ?, failure_reason = ?, next_retry_at = ?
		WHERE id = ?
	`, record.Status, record.CompletedAt, record.FailureCount, record.FailureReason,
		record.NextRetryAt, record.ID)
	if err != nil {
		return outboxerr.NewRepositoryError("update_status", err)
	}
	return nil
}

func (r *RecordRepository) FindEligible(ctx context.Context, partitions []int, limit int) ([]*core.Record, error) {
	if len(partitions) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(partitions)
	args = append([]any{core.StatusNew}, args...)
	args = append(args, time.Now(), limit)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, key, payload, payload_type, context, handler_id, partition,
		       status, created_at, completed_at, failure_count, failure_reason, next_retry_at
		FROM outbox_records
		WHERE status = ? AND partition IN (`+placeholders+`) AND next_retry_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, outboxerr.NewRepositoryError("find_eligible", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (r *RecordRepository) FindOpenByKey(ctx context.Context, key string, olderThan time.Time) ([]*core.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, key, payload, payload_type, context, handler_id, partition,
		       status, created_at, completed_at, failure_count, failure_reason, next_retry_at
		FROM outbox_records WHERE key = ? AND status = ? AND created_at < ?
	`, key, core.StatusNew, olderThan)
	if err != nil {
		return nil, outboxerr.NewRepositoryError("find_open_by_key", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (r *RecordRepository) DeleteByStatus(ctx context.Context, status core.Status, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outbox_records WHERE status = ? AND created_at < ?`, status, olderThan)
	if err != nil {
		return 0, outboxerr.NewRepositoryError("delete_by_status", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func inClause(partitions []int) (string, []any) {
	placeholders := ""
	args := make([]any, len(partitions))
	for i, p := range partitions {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = p
	}
	return placeholders, args
}

func scanRecords(rows *sql.Rows) ([]*core.Record, error) {
	var out []*core.Record
	for rows.Next() {
		var rec core.Record
		var payloadRaw, contextRaw string
		if err := rows.Scan(&rec.ID, &rec.Key, &payloadRaw, &rec.PayloadType, &contextRaw,
			&rec.HandlerID, &rec.Partition, &rec.Status, &rec.CreatedAt, &rec.CompletedAt,
			&rec.FailureCount, &rec.FailureReason, &rec.NextRetryAt); err != nil {
			return nil, outboxerr.NewRepositoryError("scan", err)
		}
		if payloadRaw != "" {
			if err := json.Unmarshal([]byte(payloadRaw), &rec.Payload); err != nil {
				return nil, outboxerr.NewRepositoryError("unmarshal_payload", err)
			}
		}
		if contextRaw != "" {
			if err := json.Unmarshal([]byte(contextRaw), &rec.Context); err != nil {
				return nil, outboxerr.NewRepositoryError("unmarshal_context", err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
