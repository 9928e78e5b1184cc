// Package bbolt provides a BBolt-backed storage repository. Each table is a
// top-level bucket; records are JSON-encoded envelopes keyed by id.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmcleod/showcase/storage"
	"go.etcd.io/bbolt"
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(_ context.Context, table, id string, envelope *storage.Envelope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return (&boltBatchTx{tx: tx}).Put(table, id, envelope)
	})
}

func (s *Store) Get(_ context.Context, table, id string) (*storage.Envelope, error) {
	var env *storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		env, err = getFromTx(tx, table, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (s *Store) Delete(_ context.Context, table, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return (&boltBatchTx{tx: tx}).Delete(table, id)
	})
}

func (s *Store) List(_ context.Context, table string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *Store) PutCAS(_ context.Context, table, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return (&boltBatchTx{tx: tx}).PutCAS(table, id, expectedVersion, envelope)
	})
}

func (s *Store) Batch(_ context.Context, fn func(tx storage.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltBatchTx{tx: tx})
	})
}

func getFromTx(tx *bbolt.Tx, table, id string) (*storage.Envelope, error) {
	b := tx.Bucket([]byte(table))
	if b == nil {
		return nil, fmt.Errorf("%s/%s: %w", table, id, storage.ErrNotFound)
	}
	data := b.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%s/%s: %w", table, id, storage.ErrNotFound)
	}
	var env storage.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%s/%s: decoding envelope: %w", table, id, err)
	}
	return &env, nil
}

type boltBatchTx struct {
	tx *bbolt.Tx
}

func (btx *boltBatchTx) Get(table, id string) (*storage.Envelope, error) {
	return getFromTx(btx.tx, table, id)
}

func (btx *boltBatchTx) Put(table, id string, envelope *storage.Envelope) error {
	b, err := btx.tx.CreateBucketIfNotExists([]byte(table))
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func (btx *boltBatchTx) PutCAS(table, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	existing, err := getFromTx(btx.tx, table, id)
	switch {
	case err != nil && expectedVersion != 0:
		return storage.ErrCASFailed
	case err == nil && (expectedVersion == 0 || existing.Version != expectedVersion):
		return storage.ErrCASFailed
	}
	return btx.Put(table, id, envelope)
}

func (btx *boltBatchTx) Delete(table, id string) error {
	b := btx.tx.Bucket([]byte(table))
	if b == nil || b.Get([]byte(id)) == nil {
		return fmt.Errorf("%s/%s: %w", table, id, storage.ErrNotFound)
	}
	return b.Delete([]byte(id))
}
