// Package csrf issues and validates per-subject CSRF tokens.
//
// Tokens are random hex strings stored under "subject:token" with a fixed
// expiry. Validation is non-consuming: a token may be replayed by its owner
// until it expires, which the admin UI relies on when retrying a burst of
// requests after a 403. Issuing a token never revokes older ones.
package csrf

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/showcase/internal/util"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 30 * time.Minute

// tokenBytes is the entropy of a token; the wire form is twice as many hex chars.
const tokenBytes = 32

// Store holds live tokens keyed by "subject:token". Implementations must be
// safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, expiresAt time.Time) error
	// Get returns the expiry of key, or ok=false when absent.
	Get(ctx context.Context, key string) (expiresAt time.Time, ok bool, err error)
	Delete(ctx context.Context, key string) error
	// SweepExpired removes every entry whose expiry is not after now and
	// reports how many were removed.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Token is an issued CSRF token.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Manager issues and validates tokens against a Store.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger used for non-fatal store errors.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager returns a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store, ttl: DefaultTTL, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func key(subjectID, token string) string {
	return subjectID + ":" + token
}

// Issue creates a new token for subjectID. Expired tokens of all subjects are
// swept first; a sweep failure does not prevent issuance.
func (m *Manager) Issue(ctx context.Context, subjectID string) (Token, error) {
	if subjectID == "" {
		return Token{}, fmt.Errorf("issuing csrf token: empty subject")
	}
	now := m.now()
	if n, err := m.store.SweepExpired(ctx, now); err != nil {
		m.logger.Warn("csrf: sweeping expired tokens failed", "error", err)
	} else if n > 0 {
		m.logger.Debug("csrf: swept expired tokens", "count", n)
	}
	value, err := util.RandomHex(tokenBytes)
	if err != nil {
		return Token{}, fmt.Errorf("issuing csrf token: %w", err)
	}
	tok := Token{Value: value, ExpiresAt: now.Add(m.ttl)}
	if err := m.store.Put(ctx, key(subjectID, value), tok.ExpiresAt); err != nil {
		return Token{}, fmt.Errorf("storing csrf token: %w", err)
	}
	return tok, nil
}

// Validate reports whether token is a live token issued to subjectID.
// Expired entries encountered here are removed.
func (m *Manager) Validate(ctx context.Context, subjectID, token string) (bool, error) {
	if subjectID == "" || len(token) != 2*tokenBytes {
		return false, nil
	}
	k := key(subjectID, token)
	expiresAt, ok, err := m.store.Get(ctx, k)
	if err != nil {
		return false, fmt.Errorf("loading csrf token: %w", err)
	}
	if !ok {
		return false, nil
	}
	if !m.now().Before(expiresAt) {
		if err := m.store.Delete(ctx, k); err != nil {
			m.logger.Warn("csrf: deleting expired token failed", "error", err)
		}
		return false, nil
	}
	return true, nil
}

