// Package store is the transactional relational store for every Brokkr
// entity. It owns the schema, the soft-delete discipline, and the
// monotonic sequence counter; every other package borrows read/write access
// through the repository methods exposed here.
//
// Modeled on the teacher's internal/controlplane/jobs/store.go
// (CREATE TABLE IF NOT EXISTS schema-as-code, additive migrations) and
// internal/controlplane/migration/migration.go (schema-version tracking),
// generalized from per-subsystem SQLite databases to one shared Postgres
// pool via jackc/pgx/v5's pgxpool.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// db is satisfied by both *pgxpool.Pool and pgx.Tx, letting repository
// methods be called either standalone against the pool or composed inside a
// caller-managed transaction via WithTx.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps a pgx connection pool and exposes per-entity repository
// methods. It has no in-memory caches: every read goes to Postgres, per
// spec.md §3 ("no in-memory caches with their own invariants").
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger sets the store's logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New connects to dsn with the given maximum pool size and ensures the
// schema exists. maxConns <= 0 uses the pgxpool default.
func New(ctx context.Context, dsn string, maxConns int32, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := &Store{pool: pool, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for components (e.g. a /readyz check)
// that only need a liveness ping.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping checks connectivity, used by the /readyz handler.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx runs fn inside a single transaction, committing on nil error and
// rolling back otherwise. Composed multi-step operations (create deployment
// object + emit event + enqueue deliveries) use this so that either all
// steps land or none do, per spec.md §4.1.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transient("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return Transient("commit tx", err)
	}
	return nil
}

// conn returns tx if non-nil, otherwise the pool, so repository methods
// accept an optional pgx.Tx parameter and run standalone when none is given.
func (s *Store) conn(tx pgx.Tx) db {
	if tx != nil {
		return tx
	}
	return s.pool
}
