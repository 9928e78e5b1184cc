// Package storagetest holds the behavioural suite every storage.Repository
// backend must pass.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/jmcleod/showcase/storage"
)

// RunRepositoryTests exercises repo against the storage.Repository contract.
// The repository must be empty when passed in.
func RunRepositoryTests(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()

	env := &storage.Envelope{Ver: 1, Scheme: storage.SchemeAESGCM, Nonce: make([]byte, 12), Payload: []byte("cipher"), Version: 1}

	t.Run("PutGet", func(t *testing.T) {
		if err := repo.Put(ctx, "identities", "a", env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get(ctx, "identities", "a")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Ver != env.Ver || got.Scheme != env.Scheme || got.Version != env.Version ||
			!bytes.Equal(got.Nonce, env.Nonce) || !bytes.Equal(got.Payload, env.Payload) {
			t.Errorf("Get returned wrong envelope: %+v", got)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ctx, "identities", "missing")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		_, err = repo.Get(ctx, "no_such_table", "a")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for missing table, got %v", err)
		}
	})

	t.Run("ListIsolatesTables", func(t *testing.T) {
		if err := repo.Put(ctx, "identities", "b", env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := repo.Put(ctx, "security_logs", "x", env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		ids, err := repo.List(ctx, "identities")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		slices.Sort(ids)
		if !slices.Equal(ids, []string{"a", "b"}) {
			t.Errorf("unexpected ids: %v", ids)
		}
		empty, err := repo.List(ctx, "no_such_table")
		if err != nil {
			t.Fatalf("List on missing table failed: %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("expected no ids, got %v", empty)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, "identities", "b"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ctx, "identities", "b"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(ctx, "identities", "b"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("PutCAS", func(t *testing.T) {
		v1 := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Payload: []byte(`{}`), Version: 1}
		if err := repo.PutCAS(ctx, "identity_emails", "e", 0, v1); err != nil {
			t.Fatalf("insert PutCAS failed: %v", err)
		}
		if err := repo.PutCAS(ctx, "identity_emails", "e", 0, v1); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed on duplicate insert, got %v", err)
		}
		v2 := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Payload: []byte(`{}`), Version: 2}
		if err := repo.PutCAS(ctx, "identity_emails", "e", 5, v2); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed on version mismatch, got %v", err)
		}
		if err := repo.PutCAS(ctx, "identity_emails", "e", 1, v2); err != nil {
			t.Errorf("PutCAS with matching version failed: %v", err)
		}
		if err := repo.PutCAS(ctx, "identity_emails", "absent", 1, v2); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed updating an absent record, got %v", err)
		}
	})

	t.Run("BatchCommit", func(t *testing.T) {
		err := repo.Batch(ctx, func(tx storage.BatchTx) error {
			if err := tx.Put("identities", "c", env); err != nil {
				return err
			}
			if _, err := tx.Get("identities", "c"); err != nil {
				return err
			}
			return tx.PutCAS("identity_emails", "c@example.com", 0, env)
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}
		if _, err := repo.Get(ctx, "identities", "c"); err != nil {
			t.Errorf("expected committed record, got %v", err)
		}
		if _, err := repo.Get(ctx, "identity_emails", "c@example.com"); err != nil {
			t.Errorf("expected committed index record, got %v", err)
		}
	})

	t.Run("BatchRollback", func(t *testing.T) {
		err := repo.Batch(ctx, func(tx storage.BatchTx) error {
			if err := tx.Put("identities", "d", env); err != nil {
				return err
			}
			return tx.PutCAS("identity_emails", "c@example.com", 0, env)
		})
		if !errors.Is(err, storage.ErrCASFailed) {
			t.Fatalf("expected ErrCASFailed from batch, got %v", err)
		}
		if _, err := repo.Get(ctx, "identities", "d"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected rolled back record to be absent, got %v", err)
		}
	})
}
