// Package postgres implements db.Store on PostgreSQL through pgx. One pool
// is shared by every service in the process; transaction-scoped views are
// handed out by RunInTx.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-ccn/ccn/db"
)

// Postgres error codes mapped onto the db sentinels.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// querier is the subset of pgx shared by pgxpool.Pool and pgx.Tx, so the
// same query methods serve both the pool-backed store and transaction views.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store is the pgx-backed db.Store.
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

var _ db.Store = (*Store)(nil)

// Open connects to the database, verifies the connection and applies the
// schema. The DSN may carry pool settings (pool_max_conns).
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse postgres dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "could not create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "could not reach postgres")
	}
	// Exec without arguments runs over the simple protocol, which accepts
	// the multi-statement schema string.
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "could not apply schema")
	}
	return &Store{pool: pool, q: pool}, nil
}

// RunInTx implements db.Store. Calls on a transaction view nest into the
// same transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, store db.Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Store{q: tx})
	})
}

// Close implements db.Store. Closing a transaction view is a no-op.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// mapError folds pgx errors onto the db package sentinels so callers never
// see driver types.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return db.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return db.ErrAlreadyExists
		case codeForeignKeyViolation:
			return db.ErrNotFound
		}
	}
	return err
}
