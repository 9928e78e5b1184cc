// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/jmcleod/showcase/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu     sync.RWMutex
	tables map[string]map[string]*storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{tables: make(map[string]map[string]*storage.Envelope)}
}

func (r *Repository) Put(_ context.Context, table, id string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(table, id, envelope)
}

func (r *Repository) putLocked(table, id string, envelope *storage.Envelope) error {
	t, ok := r.tables[table]
	if !ok {
		t = make(map[string]*storage.Envelope)
		r.tables[table] = t
	}
	t[id] = envelope.Clone()
	return nil
}

func (r *Repository) Get(_ context.Context, table, id string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(table, id)
}

func (r *Repository) getLocked(table, id string) (*storage.Envelope, error) {
	env, ok := r.tables[table][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", table, id, storage.ErrNotFound)
	}
	return env.Clone(), nil
}

func (r *Repository) List(_ context.Context, table string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tables[table]))
	for id := range r.tables[table] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Repository) Delete(_ context.Context, table, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(table, id)
}

func (r *Repository) deleteLocked(table, id string) error {
	t := r.tables[table]
	if _, ok := t[id]; !ok {
		return fmt.Errorf("%s/%s: %w", table, id, storage.ErrNotFound)
	}
	delete(t, id)
	return nil
}

func (r *Repository) PutCAS(_ context.Context, table, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCASLocked(table, id, expectedVersion, envelope)
}

func (r *Repository) putCASLocked(table, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	existing, ok := r.tables[table][id]
	if !ok {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		return r.putLocked(table, id, envelope)
	}
	if expectedVersion == 0 || existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	return r.putLocked(table, id, envelope)
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(_ context.Context, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshot()
	if err := fn(&memoryBatchTx{repo: r}); err != nil {
		r.tables = snapshot
		return err
	}
	return nil
}

func (r *Repository) snapshot() map[string]map[string]*storage.Envelope {
	cp := make(map[string]map[string]*storage.Envelope, len(r.tables))
	for name, t := range r.tables {
		cp[name] = maps.Clone(t)
	}
	return cp
}

type memoryBatchTx struct {
	repo *Repository
}

func (tx *memoryBatchTx) Get(table, id string) (*storage.Envelope, error) {
	return tx.repo.getLocked(table, id)
}

func (tx *memoryBatchTx) Put(table, id string, envelope *storage.Envelope) error {
	return tx.repo.putLocked(table, id, envelope)
}

func (tx *memoryBatchTx) PutCAS(table, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return tx.repo.putCASLocked(table, id, expectedVersion, envelope)
}

func (tx *memoryBatchTx) Delete(table, id string) error {
	return tx.repo.deleteLocked(table, id)
}
