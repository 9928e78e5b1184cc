// Package sqlite implements storage.Repository on an embedded SQLite file
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jmcleod/showcase/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
    table_name TEXT    NOT NULL,
    record_id  TEXT    NOT NULL,
    ver        INTEGER NOT NULL,
    scheme     TEXT    NOT NULL,
    nonce      BLOB,
    payload    BLOB    NOT NULL,
    version    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (table_name, record_id)
);`

// Store implements storage.Repository backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Repository = (*Store)(nil)

// Open opens (creating if needed) the SQLite database at path and ensures
// the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite permits one writer; a single connection also keeps
	// transactions from interleaving.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Put(ctx context.Context, table, id string, envelope *storage.Envelope) error {
	return put(ctx, s.db, table, id, envelope)
}

func (s *Store) Get(ctx context.Context, table, id string) (*storage.Envelope, error) {
	return get(ctx, s.db, table, id)
}

func (s *Store) List(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record_id FROM records WHERE table_name = ?`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	return del(ctx, s.db, table, id)
}

func (s *Store) PutCAS(ctx context.Context, table, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return s.Batch(ctx, func(tx storage.BatchTx) error {
		return tx.PutCAS(table, id, expectedVersion, envelope)
	})
}

func (s *Store) Batch(ctx context.Context, fn func(tx storage.BatchTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteBatchTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteBatchTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (b *sqliteBatchTx) Get(table, id string) (*storage.Envelope, error) {
	return get(b.ctx, b.tx, table, id)
}

func (b *sqliteBatchTx) Put(table, id string, envelope *storage.Envelope) error {
	return put(b.ctx, b.tx, table, id, envelope)
}

func (b *sqliteBatchTx) PutCAS(table, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	existing, err := get(b.ctx, b.tx, table, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
	case err != nil:
		return err
	case expectedVersion == 0 || existing.Version != expectedVersion:
		return storage.ErrCASFailed
	}
	return put(b.ctx, b.tx, table, id, envelope)
}

func (b *sqliteBatchTx) Delete(table, id string) error {
	return del(b.ctx, b.tx, table, id)
}

func put(ctx context.Context, q execer, table, id string, env *storage.Envelope) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO records (table_name, record_id, ver, scheme, nonce, payload, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (table_name, record_id)
		 DO UPDATE SET ver = excluded.ver, scheme = excluded.scheme, nonce = excluded.nonce,
		               payload = excluded.payload, version = excluded.version`,
		table, id, env.Ver, env.Scheme, env.Nonce, env.Payload, int64(env.Version))
	return err
}

func get(ctx context.Context, q execer, table, id string) (*storage.Envelope, error) {
	var (
		env     storage.Envelope
		version int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT ver, scheme, nonce, payload, version FROM records WHERE table_name = ? AND record_id = ?`,
		table, id).Scan(&env.Ver, &env.Scheme, &env.Nonce, &env.Payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", table, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	env.Version = uint64(version)
	return &env, nil
}

func del(ctx context.Context, q execer, table, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM records WHERE table_name = ? AND record_id = ?`, table, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", table, id, storage.ErrNotFound)
	}
	return nil
}
