package audit

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jmcleod/showcase/storage"
)

const (
	securityLogTable = "security_logs"
	chainHeadTable   = "security_log_head"
	chainHeadID      = "head"

	maxAppendAttempts = 5
	// DefaultListLimit caps List when Filter.Limit is zero.
	DefaultListLimit = 100
)

// ErrChainBroken is returned by VerifyChain when an entry was altered,
// removed or inserted out of order.
var ErrChainBroken = errors.New("security log chain broken")

// ErrDuplicateEntry is returned by Append when the entry id is already used.
var ErrDuplicateEntry = errors.New("security log entry already exists")

// Filter narrows List.
type Filter struct {
	EventType EventType
	SubjectID string
	Limit     int
}

// Store is the append-only security log kept in a storage.Repository.
// Every entry carries the hash of its predecessor; the current head is kept
// in a separate row updated in the same batch as the entry.
type Store struct {
	repo storage.Repository
}

func NewStore(repo storage.Repository) *Store {
	return &Store{repo: repo}
}

type chainHead struct {
	ID   string `json:"id"`
	Hash string `json:"hash"`
}

// Append links e to the current head and writes it. e.PrevHash and e.Hash
// are filled in. Concurrent appenders from several processes are serialised
// by a compare-and-swap on the head row.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		return fmt.Errorf("appending security log entry: empty id")
	}
	var err error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		err = s.repo.Batch(ctx, func(tx storage.BatchTx) error {
			head, version, err := readHead(tx)
			if err != nil {
				return err
			}
			e.PrevHash = head.Hash
			e.Hash, err = ComputeHash(*e)
			if err != nil {
				return fmt.Errorf("hashing entry: %w", err)
			}
			env, err := storage.MarshalRecord(e, 1)
			if err != nil {
				return err
			}
			if err := tx.PutCAS(securityLogTable, e.ID, 0, env); errors.Is(err, storage.ErrCASFailed) {
				return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.ID)
			} else if err != nil {
				return err
			}
			headEnv, err := storage.MarshalRecord(chainHead{ID: e.ID, Hash: e.Hash}, version+1)
			if err != nil {
				return err
			}
			return tx.PutCAS(chainHeadTable, chainHeadID, version, headEnv)
		})
		if !errors.Is(err, storage.ErrCASFailed) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("appending security log entry: %w", err)
	}
	return nil
}

func readHead(tx storage.BatchTx) (chainHead, uint64, error) {
	env, err := tx.Get(chainHeadTable, chainHeadID)
	if errors.Is(err, storage.ErrNotFound) {
		return chainHead{Hash: GenesisHash}, 0, nil
	}
	if err != nil {
		return chainHead{}, 0, err
	}
	var head chainHead
	if err := storage.UnmarshalRecord(env, &head); err != nil {
		return chainHead{}, 0, err
	}
	return head, env.Version, nil
}

// Get returns the entry with id.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	env, err := s.repo.Get(ctx, securityLogTable, id)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := storage.UnmarshalRecord(env, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// sortedIDs returns every entry id oldest first. IDs are time-ordered UUIDs.
func (s *Store) sortedIDs(ctx context.Context) ([]string, error) {
	ids, err := s.repo.List(ctx, securityLogTable)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// List returns matching entries newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	ids, err := s.sortedIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing security log: %w", err)
	}
	entries := make([]Entry, 0, min(limit, len(ids)))
	for i := len(ids) - 1; i >= 0 && len(entries) < limit; i-- {
		e, err := s.Get(ctx, ids[i])
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading security log entry %s: %w", ids[i], err)
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.SubjectID != "" && e.SubjectID != f.SubjectID {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	ids, err := s.repo.List(ctx, securityLogTable)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// VerifyChain walks the log from the head back to the genesis hash and
// checks every link. It returns the number of entries verified.
func (s *Store) VerifyChain(ctx context.Context) (int, error) {
	walked, err := s.walk(ctx)
	return len(walked), err
}

// Export returns every entry in chain order, oldest first. Entry ids are only
// roughly ordered, so this is the order to hand to offline verifiers.
func (s *Store) Export(ctx context.Context) ([]Entry, error) {
	walked, err := s.walk(ctx)
	if err != nil {
		return nil, err
	}
	slices.Reverse(walked)
	return walked, nil
}

// walk follows PrevHash links from the head. On failure it returns the
// entries verified so far, newest first.
func (s *Store) walk(ctx context.Context) ([]Entry, error) {
	var head chainHead
	if err := s.repo.Batch(ctx, func(tx storage.BatchTx) error {
		var err error
		head, _, err = readHead(tx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("reading chain head: %w", err)
	}
	ids, err := s.repo.List(ctx, securityLogTable)
	if err != nil {
		return nil, fmt.Errorf("listing security log: %w", err)
	}

	byHash := make(map[string]Entry, len(ids))
	for _, id := range ids {
		e, err := s.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reading security log entry %s: %w", id, err)
		}
		byHash[e.Hash] = e
	}

	walked := make([]Entry, 0, len(ids))
	want := head.Hash
	for want != GenesisHash {
		e, ok := byHash[want]
		if !ok {
			return walked, fmt.Errorf("%w: no entry with hash %s", ErrChainBroken, want)
		}
		got, err := ComputeHash(e)
		if err != nil {
			return walked, err
		}
		if got != e.Hash {
			return walked, fmt.Errorf("%w: entry %s was modified", ErrChainBroken, e.ID)
		}
		delete(byHash, want)
		walked = append(walked, e)
		want = e.PrevHash
	}
	if len(walked) != len(ids) {
		return walked, fmt.Errorf("%w: %d entries are not linked", ErrChainBroken, len(ids)-len(walked))
	}
	return walked, nil
}
