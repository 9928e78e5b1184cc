// Package storage provides the record store abstraction behind identities,
// the security log and shared token state.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// BatchTx provides record operations within one atomic transaction. Unlike
// the Repository methods, a BatchTx may span several tables.
type BatchTx interface {
	Get(table, id string) (*Envelope, error)
	Put(table, id string, envelope *Envelope) error
	PutCAS(table, id string, expectedVersion uint64, envelope *Envelope) error
	Delete(table, id string) error
}

// Repository is a table-oriented key/value record store.
//
// PutCAS with expectedVersion 0 means "insert only if absent"; any other value
// must match the stored Envelope.Version.
type Repository interface {
	Put(ctx context.Context, table, id string, envelope *Envelope) error
	Get(ctx context.Context, table, id string) (*Envelope, error)
	List(ctx context.Context, table string) ([]string, error)
	Delete(ctx context.Context, table, id string) error
	PutCAS(ctx context.Context, table, id string, expectedVersion uint64, envelope *Envelope) error
	Batch(ctx context.Context, fn func(tx BatchTx) error) error
}
