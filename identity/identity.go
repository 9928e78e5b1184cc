// Package identity is the credential store for admin identities: email,
// salted password hash, role and last login time.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/showcase/internal/util"
	"github.com/jmcleod/showcase/internal/uuid"
	"github.com/jmcleod/showcase/storage"
)

// Role is an authorization role carried by an identity and its tokens.
type Role string

// RoleAdmin is the only role the admin API grants access to.
const RoleAdmin Role = "admin"

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin
}

const (
	identityTable = "identities"
	emailTable    = "identity_emails"

	// MinPasswordLen is the minimum password length accepted at
	// provisioning and password change.
	MinPasswordLen = 10
)

var (
	ErrNotFound     = errors.New("identity not found")
	ErrEmailTaken   = errors.New("email already registered")
	ErrInvalidRole  = errors.New("invalid role")
	ErrInvalidEmail = errors.New("invalid email")
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLen)
)

// Identity is a provisioned admin account.
type Identity struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"password_hash"`
	Role         Role       `json:"role"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	// Version increments on every write and guards updates with CAS.
	Version uint64 `json:"version"`
}

type emailIndex struct {
	ID string `json:"id"`
}

// Store persists identities in a storage.Repository. Identities are never
// deleted by this package.
type Store struct {
	repo storage.Repository
	now  func() time.Time
}

// NewStore returns a Store backed by repo.
func NewStore(repo storage.Repository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// Create provisions a new identity. The email is normalized and must be
// unique; the password is hashed with Argon2id.
func (s *Store) Create(ctx context.Context, email, password string, role Role) (Identity, error) {
	email = util.NormalizeEmail(email)
	if !validEmail(email) {
		return Identity{}, ErrInvalidEmail
	}
	if !role.Valid() {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if len(password) < MinPasswordLen {
		return Identity{}, ErrWeakPassword
	}
	hash, err := HashPassword(password, DefaultArgon2Params())
	if err != nil {
		return Identity{}, fmt.Errorf("hashing password: %w", err)
	}

	id := Identity{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
		Version:      1,
	}
	if err := s.insert(ctx, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Import stores an identity whose password hash was produced elsewhere
// (for example a bcrypt hash carried over from a previous deployment).
func (s *Store) Import(ctx context.Context, id Identity) (Identity, error) {
	id.Email = util.NormalizeEmail(id.Email)
	if !validEmail(id.Email) {
		return Identity{}, ErrInvalidEmail
	}
	if !id.Role.Valid() {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidRole, id.Role)
	}
	if id.ID == "" {
		id.ID = uuid.New()
	}
	if id.CreatedAt.IsZero() {
		id.CreatedAt = s.now().UTC()
	}
	id.Version = 1
	if err := s.insert(ctx, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (s *Store) insert(ctx context.Context, id Identity) error {
	row, err := storage.MarshalRecord(id, id.Version)
	if err != nil {
		return err
	}
	idx, err := storage.MarshalRecord(emailIndex{ID: id.ID}, 1)
	if err != nil {
		return err
	}
	err = s.repo.Batch(ctx, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(emailTable, id.Email, 0, idx); err != nil {
			return err
		}
		return tx.PutCAS(identityTable, id.ID, 0, row)
	})
	if errors.Is(err, storage.ErrCASFailed) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("storing identity: %w", err)
	}
	return nil
}

// Get returns the identity with the given id.
func (s *Store) Get(ctx context.Context, id string) (Identity, error) {
	env, err := s.repo.Get(ctx, identityTable, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("loading identity: %w", err)
	}
	var out Identity
	if err := storage.UnmarshalRecord(env, &out); err != nil {
		return Identity{}, err
	}
	return out, nil
}

// GetByEmail resolves an identity by (normalized) email.
func (s *Store) GetByEmail(ctx context.Context, email string) (Identity, error) {
	env, err := s.repo.Get(ctx, emailTable, util.NormalizeEmail(email))
	if errors.Is(err, storage.ErrNotFound) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("loading email index: %w", err)
	}
	var idx emailIndex
	if err := storage.UnmarshalRecord(env, &idx); err != nil {
		return Identity{}, err
	}
	return s.Get(ctx, idx.ID)
}

// Count returns the number of provisioned identities.
func (s *Store) Count(ctx context.Context) (int, error) {
	ids, err := s.repo.List(ctx, identityTable)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RecordLogin stamps the identity's last login time.
func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, func(i *Identity) error {
		t := at.UTC()
		i.LastLogin = &t
		return nil
	})
}

// SetPassword replaces the identity's password hash.
func (s *Store) SetPassword(ctx context.Context, id, password string) error {
	if len(password) < MinPasswordLen {
		return ErrWeakPassword
	}
	hash, err := HashPassword(password, DefaultArgon2Params())
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return s.setHash(ctx, id, hash)
}

func (s *Store) setHash(ctx context.Context, id, hash string) error {
	return s.update(ctx, id, func(i *Identity) error {
		i.PasswordHash = hash
		return nil
	})
}

func (s *Store) update(ctx context.Context, id string, mutate func(*Identity) error) error {
	return s.repo.Batch(ctx, func(tx storage.BatchTx) error {
		env, err := tx.Get(identityTable, id)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var cur Identity
		if err := storage.UnmarshalRecord(env, &cur); err != nil {
			return err
		}
		if err := mutate(&cur); err != nil {
			return err
		}
		prev := cur.Version
		cur.Version++
		row, err := storage.MarshalRecord(cur, cur.Version)
		if err != nil {
			return err
		}
		return tx.PutCAS(identityTable, id, prev, row)
	})
}

func validEmail(email string) bool {
	at := -1
	for i, c := range email {
		if c == '@' {
			if at >= 0 {
				return false
			}
			at = i
		}
		if c == ' ' {
			return false
		}
	}
	return at > 0 && at < len(email)-1
}
