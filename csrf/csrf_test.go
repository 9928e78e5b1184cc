package csrf

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/showcase/storage"
	"github.com/jmcleod/showcase/storage/memory"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("repository", func(t *testing.T) {
		store, err := NewRepositoryStore(memory.NewRepository(), []byte("csrf-test-secret-0123456789abcdef"))
		require.NoError(t, err)
		t.Cleanup(store.Close)
		fn(t, store)
	})
}

func TestIssue_TokenShape(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		clock := newClock()
		m := NewManager(store, WithClock(clock.Now))

		tok, err := m.Issue(context.Background(), "42")
		require.NoError(t, err)
		assert.Len(t, tok.Value, 64)
		assert.Equal(t, strings.ToLower(tok.Value), tok.Value)
		assert.Equal(t, clock.Now().Add(30*time.Minute), tok.ExpiresAt)
	})
}

func TestIssue_EmptySubject(t *testing.T) {
	m := NewManager(NewMemoryStore())
	_, err := m.Issue(context.Background(), "")
	require.Error(t, err)
}

func TestValidate_BoundToSubject(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		m := NewManager(store)

		tok, err := m.Issue(ctx, "42")
		require.NoError(t, err)

		ok, err := m.Validate(ctx, "7", tok.Value)
		require.NoError(t, err)
		assert.False(t, ok, "token issued to 42 must not validate for 7")

		ok, err = m.Validate(ctx, "42", tok.Value)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestValidate_ReusableUntilExpiry(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newClock()
		m := NewManager(store, WithClock(clock.Now))

		tok, err := m.Issue(ctx, "42")
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			clock.Advance(5 * time.Minute)
			ok, err := m.Validate(ctx, "42", tok.Value)
			require.NoError(t, err)
			assert.True(t, ok, "validation %d after %s", i, 5*time.Minute*time.Duration(i+1))
		}

		clock.Advance(5*time.Minute + time.Second)
		ok, err := m.Validate(ctx, "42", tok.Value)
		require.NoError(t, err)
		assert.False(t, ok, "token must expire after 30 minutes")

		// The expired entry was removed on the failed validation.
		_, found, err := store.Get(ctx, key("42", tok.Value))
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestValidate_MultipleTokensCoexist(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		m := NewManager(store)

		first, err := m.Issue(ctx, "42")
		require.NoError(t, err)
		second, err := m.Issue(ctx, "42")
		require.NoError(t, err)
		assert.NotEqual(t, first.Value, second.Value)

		for _, tok := range []Token{first, second} {
			ok, err := m.Validate(ctx, "42", tok.Value)
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})
}

func TestValidate_RejectsGarbage(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())
	_, err := m.Issue(ctx, "42")
	require.NoError(t, err)

	for _, candidate := range []string{"", "short", strings.Repeat("0", 64), strings.Repeat("z", 65)} {
		ok, err := m.Validate(ctx, "42", candidate)
		require.NoError(t, err)
		assert.False(t, ok, "candidate %q", candidate)
	}

	ok, err := m.Validate(ctx, "", strings.Repeat("0", 64))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIssue_SweepsExpired(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newClock()
		m := NewManager(store, WithClock(clock.Now))

		stale, err := m.Issue(ctx, "7")
		require.NoError(t, err)

		clock.Advance(31 * time.Minute)
		_, err = m.Issue(ctx, "42")
		require.NoError(t, err)

		_, found, err := store.Get(ctx, key("7", stale.Value))
		require.NoError(t, err)
		assert.False(t, found, "expired token of another subject should be swept on issue")
	})
}

func TestWithTTL(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	m := NewManager(NewMemoryStore(), WithClock(clock.Now), WithTTL(time.Minute))

	tok, err := m.Issue(ctx, "42")
	require.NoError(t, err)
	clock.Advance(time.Minute)

	ok, err := m.Validate(ctx, "42", tok.Value)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryStore_HidesRawToken(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	store, err := NewRepositoryStore(repo, []byte("csrf-test-secret-0123456789abcdef"))
	require.NoError(t, err)

	m := NewManager(store)
	tok, err := m.Issue(ctx, "42")
	require.NoError(t, err)

	ids, err := repo.List(ctx, csrfTable)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotContains(t, ids[0], tok.Value)

	env, err := repo.Get(ctx, csrfTable, ids[0])
	require.NoError(t, err)
	assert.Equal(t, storage.SchemeAESGCM, env.Scheme)
	assert.NotContains(t, string(env.Payload), "expires_at")
}

func TestRepositoryStore_SharedAcrossManagers(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	secret := []byte("csrf-test-secret-0123456789abcdef")

	storeA, err := NewRepositoryStore(repo, secret)
	require.NoError(t, err)
	storeB, err := NewRepositoryStore(repo, secret)
	require.NoError(t, err)

	tok, err := NewManager(storeA).Issue(ctx, "42")
	require.NoError(t, err)

	ok, err := NewManager(storeB).Validate(ctx, "42", tok.Value)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRepositoryStore_SweepDropsForeignRows(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	old, err := NewRepositoryStore(repo, []byte("old-secret-0123456789abcdef-0123"))
	require.NoError(t, err)
	require.NoError(t, old.Put(ctx, key("42", strings.Repeat("a", 64)), time.Now().Add(time.Hour)))

	current, err := NewRepositoryStore(repo, []byte("new-secret-0123456789abcdef-0123"))
	require.NoError(t, err)
	n, err := current.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids, err := repo.List(ctx, csrfTable)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
