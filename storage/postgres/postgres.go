// Package postgres implements storage.Repository backed by PostgreSQL.
//
// All tables share one records relation keyed by (table_name, record_id).
// Envelope fields are stored as individual columns so nonce and payload use
// native BYTEA storage.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/showcase/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// querier abstracts both *pgxpool.Pool and pgx.Tx for shared queries.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) Put(ctx context.Context, table, id string, envelope *storage.Envelope) error {
	return put(ctx, s.pool, table, id, envelope)
}

func (s *Store) Get(ctx context.Context, table, id string) (*storage.Envelope, error) {
	return get(ctx, s.pool, table, id)
}

func (s *Store) List(ctx context.Context, table string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id FROM records WHERE table_name = $1`, table)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	return del(ctx, s.pool, table, id)
}

func (s *Store) PutCAS(ctx context.Context, table, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := putCAS(ctx, tx, table, id, expectedVersion, envelope); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Batch(ctx context.Context, fn func(tx storage.BatchTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgBatchTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgBatchTx struct {
	ctx context.Context
	tx  pgx.Tx
}

var _ storage.BatchTx = (*pgBatchTx)(nil)

func (b *pgBatchTx) Get(table, id string) (*storage.Envelope, error) {
	return get(b.ctx, b.tx, table, id)
}

func (b *pgBatchTx) Put(table, id string, envelope *storage.Envelope) error {
	return put(b.ctx, b.tx, table, id, envelope)
}

func (b *pgBatchTx) PutCAS(table, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return putCAS(b.ctx, b.tx, table, id, expectedVersion, envelope)
}

func (b *pgBatchTx) Delete(table, id string) error {
	return del(b.ctx, b.tx, table, id)
}

func put(ctx context.Context, q querier, table, id string, env *storage.Envelope) error {
	_, err := q.Exec(ctx,
		`INSERT INTO records (table_name, record_id, ver, scheme, nonce, payload, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (table_name, record_id)
		 DO UPDATE SET ver = $3, scheme = $4, nonce = $5, payload = $6, version = $7`,
		table, id, env.Ver, env.Scheme, env.Nonce, env.Payload, int64(env.Version))
	return err
}

func get(ctx context.Context, q querier, table, id string) (*storage.Envelope, error) {
	var (
		env     storage.Envelope
		version int64
	)
	err := q.QueryRow(ctx,
		`SELECT ver, scheme, nonce, payload, version
		 FROM records WHERE table_name = $1 AND record_id = $2`,
		table, id).Scan(&env.Ver, &env.Scheme, &env.Nonce, &env.Payload, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", table, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	env.Version = uint64(version)
	return &env, nil
}

func del(ctx context.Context, q querier, table, id string) error {
	tag, err := q.Exec(ctx,
		`DELETE FROM records WHERE table_name = $1 AND record_id = $2`, table, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", table, id, storage.ErrNotFound)
	}
	return nil
}

// putCAS performs a compare-and-swap put within an existing transaction.
func putCAS(ctx context.Context, tx pgx.Tx, table, id string, expectedVersion uint64, env *storage.Envelope) error {
	var current int64
	err := tx.QueryRow(ctx,
		`SELECT version FROM records
		 WHERE table_name = $1 AND record_id = $2
		 FOR UPDATE`,
		table, id).Scan(&current)

	if errors.Is(err, pgx.ErrNoRows) {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO records (table_name, record_id, ver, scheme, nonce, payload, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (table_name, record_id) DO NOTHING`,
			table, id, env.Ver, env.Scheme, env.Nonce, env.Payload, int64(env.Version))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// Lost an insert race against a concurrent writer.
			return storage.ErrCASFailed
		}
		return nil
	}
	if err != nil {
		return err
	}
	if expectedVersion == 0 || uint64(current) != expectedVersion {
		return storage.ErrCASFailed
	}
	return put(ctx, tx, table, id, env)
}
