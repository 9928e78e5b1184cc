package csrf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/showcase/internal/util"
	"github.com/jmcleod/showcase/storage"
)

const (
	csrfTable   = "csrf_tokens"
	csrfAADBase = "showcase:csrf:"
	// KeyPurpose is the HKDF purpose string for the row sealing key.
	KeyPurpose = "csrf-store"
)

// RepositoryStore keeps tokens in a storage.Repository so several server
// instances sharing one database accept each other's tokens.
//
// Row ids are SHA-256 digests of the composite key, so the raw token never
// reaches the database. Row contents are sealed with AES-256-GCM.
type RepositoryStore struct {
	repo storage.Repository
	key  []byte
}

var _ Store = (*RepositoryStore)(nil)

type repositoryEntry struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRepositoryStore returns a RepositoryStore sealing rows with a key
// derived from secret.
func NewRepositoryStore(repo storage.Repository, secret []byte) (*RepositoryStore, error) {
	key, err := util.DeriveKey(secret, KeyPurpose)
	if err != nil {
		return nil, err
	}
	return &RepositoryStore{repo: repo, key: key}, nil
}

// Close wipes the sealing key.
func (s *RepositoryStore) Close() {
	util.WipeBytes(s.key)
}

func rowID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (s *RepositoryStore) Put(ctx context.Context, key string, expiresAt time.Time) error {
	data, err := json.Marshal(repositoryEntry{ExpiresAt: expiresAt.UTC()})
	if err != nil {
		return err
	}
	id := rowID(key)
	env, err := storage.SealRecord(s.key, data, []byte(csrfAADBase+id))
	if err != nil {
		return err
	}
	return s.repo.Put(ctx, csrfTable, id, env)
}

func (s *RepositoryStore) Get(ctx context.Context, key string) (time.Time, bool, error) {
	id := rowID(key)
	entry, err := s.load(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return entry.ExpiresAt, true, nil
}

func (s *RepositoryStore) load(ctx context.Context, id string) (repositoryEntry, error) {
	env, err := s.repo.Get(ctx, csrfTable, id)
	if err != nil {
		return repositoryEntry{}, err
	}
	data, err := storage.OpenRecord(s.key, env, []byte(csrfAADBase+id))
	if err != nil {
		return repositoryEntry{}, fmt.Errorf("opening csrf row: %w", err)
	}
	var entry repositoryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return repositoryEntry{}, fmt.Errorf("decoding csrf row: %w", err)
	}
	return entry, nil
}

func (s *RepositoryStore) Delete(ctx context.Context, key string) error {
	err := s.repo.Delete(ctx, csrfTable, rowID(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// SweepExpired scans every row; unreadable rows (for example sealed under a
// previous secret) are removed as well.
func (s *RepositoryStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.List(ctx, csrfTable)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		entry, err := s.load(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err == nil && now.Before(entry.ExpiresAt) {
			continue
		}
		if err := s.repo.Delete(ctx, csrfTable, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return n, err
		}
		n++
	}
	return n, nil
}
