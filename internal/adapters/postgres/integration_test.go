//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relaykit/outbox/internal/adapters/postgres"
	"github.com/relaykit/outbox/internal/adapters/postgres/migrations"
	"github.com/relaykit/outbox/internal/core"
)

// startPostgres brings up a disposable Postgres container, applies the
// outbox schema through the same goose migrations outbox-migrate uses, and
// returns a connected pool. Run with `go test -tags=integration ./...`.
func startPostgres(t *testing.T) *postgres.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("outbox_test"),
		tcpostgres.WithUsername("outbox"),
		tcpostgres.WithPassword("outbox"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrateDB, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, migrations.Up(migrateDB))
	require.NoError(t, migrateDB.Close())

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestRecordRepositoryRoundTripsAgainstRealPostgres(t *testing.T) {
	pool := startPostgres(t)
	records := postgres.NewRecordRepository(pool, nil)
	ctx := context.Background()

	rec := &core.Record{
		ID:          "rec-1",
		Key:         "order-42",
		Payload:     map[string]any{"amount": float64(100)},
		PayloadType: "order.Placed",
		HandlerID:   "ship-order",
		Partition:   7,
		Status:      core.StatusNew,
		CreatedAt:   time.Now().UTC(),
		NextRetryAt: time.Now().UTC(),
	}
	require.NoError(t, records.Insert(ctx, rec))

	found, err := records.FindEligible(ctx, []int{7}, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, rec.Key, found[0].Key)

	rec.Status = core.StatusCompleted
	now := time.Now().UTC()
	rec.CompletedAt = &now
	require.NoError(t, records.UpdateStatus(ctx, rec))

	found, err = records.FindEligible(ctx, []int{7}, 10)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestRecordRepositoryInTransactionReflectsWithTx(t *testing.T) {
	pool := startPostgres(t)
	records := postgres.NewRecordRepository(pool, nil)
	ctx := context.Background()

	require.False(t, records.InTransaction(ctx))

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	txCtx := postgres.WithTx(ctx, tx)
	require.True(t, records.InTransaction(txCtx))
}

func TestInstanceRepositoryHeartbeatReportsMissingRow(t *testing.T) {
	pool := startPostgres(t)
	instances := postgres.NewInstanceRepository(pool, nil)
	ctx := context.Background()

	err := instances.Heartbeat(ctx, "does-not-exist", time.Now().UTC())
	require.Error(t, err)
}

func TestPartitionRepositoryClaimAndReleaseAgainstRealPostgres(t *testing.T) {
	pool := startPostgres(t)
	partitions := postgres.NewPartitionRepository(pool, nil)
	ctx := context.Background()

	require.NoError(t, partitions.Bootstrap(ctx))

	require.NoError(t, partitions.Claim(ctx, 3, "instance-a", 0))
	err := partitions.Claim(ctx, 3, "instance-b", 0)
	require.Error(t, err)

	require.NoError(t, partitions.Release(ctx, 3, 1))

	assigned, err := partitions.AssignedTo(ctx, "instance-a")
	require.NoError(t, err)
	require.Empty(t, assigned)
}
