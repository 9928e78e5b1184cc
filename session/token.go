// Package session issues and verifies the signed bearer tokens that
// authenticate admin API requests.
//
// Tokens are HS256 JWTs carrying the subject id, email and role. They are
// not stored server-side: a token is valid when its signature checks out, it
// has not expired, and its subject still resolves in the credential store.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/showcase/identity"
)

// DefaultTTL is the fixed lifetime of an issued token.
const DefaultTTL = 24 * time.Hour

// MinSecretLen is the minimum length of the signing secret in bytes.
const MinSecretLen = 32

var (
	ErrMalformed        = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrSubjectNotFound  = errors.New("token subject not found")
	ErrSecretTooShort   = fmt.Errorf("signing secret must be at least %d bytes", MinSecretLen)
)

// IdentityLookup resolves a subject id to its current identity. It must
// return identity.ErrNotFound for unknown subjects.
type IdentityLookup interface {
	Get(ctx context.Context, id string) (identity.Identity, error)
}

// Claims is the token payload.
type Claims struct {
	ID    string        `json:"id"`
	Email string        `json:"email"`
	Role  identity.Role `json:"role"`
	jwt.RegisteredClaims
}

// Token is an issued bearer token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Issuer signs and verifies session tokens. The signing secret lives in a
// memguard enclave and is decrypted only for the duration of each call.
type Issuer struct {
	secret     *memguard.Enclave
	identities IdentityLookup
	ttl        time.Duration
	now        func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock sets the time source used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an Issuer. The secret slice is copied into protected
// memory and wiped.
func NewIssuer(secret []byte, identities IdentityLookup, opts ...Option) (*Issuer, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}
	i := &Issuer{
		secret:     memguard.NewEnclave(secret),
		identities: identities,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for id.
func (i *Issuer) Issue(id identity.Identity) (Token, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		ID:    id.ID,
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	key, err := i.secret.Open()
	if err != nil {
		return Token{}, fmt.Errorf("opening signing key: %w", err)
	}
	defer key.Destroy()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.Bytes())
	if err != nil {
		return Token{}, fmt.Errorf("signing token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: exp.Truncate(time.Second)}, nil
}

// Parse checks signature and expiry without touching the credential store.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	key, err := i.secret.Open()
	if err != nil {
		return nil, fmt.Errorf("opening signing key: %w", err)
	}
	defer key.Destroy()

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return key.Bytes(), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, ErrInvalidSignature
	default:
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformed)
	}
	return claims, nil
}

// Verify authenticates raw and returns the subject's current identity.
// Signature and expiry are checked first, so malformed or expired tokens are
// rejected without a store read. A subject whose email or role changed since
// issuance is treated as not found.
func (i *Issuer) Verify(ctx context.Context, raw string) (identity.Identity, error) {
	claims, err := i.Parse(raw)
	if err != nil {
		return identity.Identity{}, err
	}
	id, err := i.identities.Get(ctx, claims.ID)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.Identity{}, ErrSubjectNotFound
	}
	if err != nil {
		return identity.Identity{}, fmt.Errorf("resolving token subject: %w", err)
	}
	if id.Email != claims.Email || id.Role != claims.Role {
		return identity.Identity{}, ErrSubjectNotFound
	}
	return id, nil
}
