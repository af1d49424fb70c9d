// Package postgres implements the repository interfaces on top of
// jackc/pgx/v5 and pgxpool, following the same pool-wrapper shape the rest
// of this codebase uses for its Postgres-backed adapters.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig configures the connection pool.
type PoolConfig struct {
	DSN         string
	MaxConns    int32
	ConnTimeout time.Duration
}

// Pool wraps a *pgxpool.Pool, giving every adapter in this package a single
// place to run transactions from.
type Pool struct {
	pool *pgxpool.Pool
}

// Connect parses cfg and establishes the pool.
func Connect(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnTimeout > 0 {
		pgxCfg.ConnConfig.ConnectTimeout = cfg.ConnTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Pool{pool: pool}, nil
}

// Close releases every connection in the pool.
func (p *Pool) Close() {
	p.pool.Close()
}

// Begin starts a new transaction. The outbox write API requires the
// caller's ctx to already carry a transaction started this way before
// Schedule can run.
func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	return p.pool.Begin(ctx)
}

// txKey is the context key under which an in-flight transaction is stored
// so repository methods can find it without threading it through every
// call explicitly.
type txKey struct{}

// WithTx returns a context carrying tx, for repository methods that must
// participate in the caller's transaction (Schedule's record inserts).
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// querier is satisfied by both pgx.Tx and *pgxpool.Pool, letting a
// repository method run against whichever one is available.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgconnCommandTag aliases pgconn.CommandTag, the type Exec returns.
type pgconnCommandTag = pgconn.CommandTag

func (p *Pool) querierFrom(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return p.pool
}
