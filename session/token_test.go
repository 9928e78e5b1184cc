package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/showcase/identity"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

// countingLookup records how often the credential store is consulted.
type countingLookup struct {
	ids   map[string]identity.Identity
	err   error
	calls atomic.Int32
}

func (c *countingLookup) Get(_ context.Context, id string) (identity.Identity, error) {
	c.calls.Add(1)
	if c.err != nil {
		return identity.Identity{}, c.err
	}
	got, ok := c.ids[id]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	return got, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var admin42 = identity.Identity{ID: "42", Email: "admin@example.com", Role: identity.RoleAdmin}

func newTestIssuer(t *testing.T, lookup IdentityLookup, clock *fakeClock) *Issuer {
	t.Helper()
	iss, err := NewIssuer([]byte(testSecret), lookup, WithClock(clock.Now))
	require.NoError(t, err)
	return iss
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	lookup := &countingLookup{ids: map[string]identity.Identity{"42": admin42}}
	iss := newTestIssuer(t, lookup, clock)

	tok, err := iss.Issue(admin42)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(24*time.Hour), tok.ExpiresAt)

	got, err := iss.Verify(context.Background(), tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "42", got.ID)
	assert.Equal(t, admin42.Email, got.Email)
	assert.Equal(t, identity.RoleAdmin, got.Role)

	claims, err := iss.Parse(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.ID)
	assert.Equal(t, "42", claims.Subject)
}

func TestVerify_ValidUntilExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	lookup := &countingLookup{ids: map[string]identity.Identity{"42": admin42}}
	iss := newTestIssuer(t, lookup, clock)

	tok, err := iss.Issue(admin42)
	require.NoError(t, err)

	clock.Advance(23*time.Hour + 59*time.Minute)
	_, err = iss.Verify(context.Background(), tok.Value)
	assert.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = iss.Verify(context.Background(), tok.Value)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerify_ExpiredRejectedWithoutLookup(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	lookup := &countingLookup{ids: map[string]identity.Identity{"42": admin42}}
	iss := newTestIssuer(t, lookup, clock)

	tok, err := iss.Issue(admin42)
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	_, err = iss.Verify(context.Background(), tok.Value)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Zero(t, lookup.calls.Load(), "expired tokens must fail before any store read")
}

func TestVerify_WrongSignature(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	lookup := &countingLookup{ids: map[string]identity.Identity{"42": admin42}}
	iss := newTestIssuer(t, lookup, clock)

	other, err := NewIssuer([]byte(strings.Repeat("x", 40)), lookup, WithClock(clock.Now))
	require.NoError(t, err)
	forged, err := other.Issue(admin42)
	require.NoError(t, err)

	_, err = iss.Verify(context.Background(), forged.Value)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	tok, err := iss.Issue(admin42)
	require.NoError(t, err)
	tampered := tok.Value[:len(tok.Value)-2] + "xx"
	_, err = iss.Verify(context.Background(), tampered)
	assert.Error(t, err)

	assert.Zero(t, lookup.calls.Load(), "bad signatures must fail before any store read")
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	lookup := &countingLookup{ids: map[string]identity.Identity{"42": admin42}}
	iss := newTestIssuer(t, lookup, clock)

	claims := Claims{ID: "42", Email: admin42.Email, Role: identity.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = iss.Verify(context.Background(), unsigned)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, lookup.calls.Load())
}

func TestVerify_Malformed(t *testing.T) {
	lookup := &countingLookup{}
	iss := newTestIssuer(t, lookup, &fakeClock{t: time.Now()})

	for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := iss.Verify(context.Background(), raw)
		assert.ErrorIs(t, err, ErrMalformed, "raw=%q", raw)
	}
	assert.Zero(t, lookup.calls.Load())
}

func TestVerify_SubjectNotFound(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	lookup := &countingLookup{ids: map[string]identity.Identity{"42": admin42}}
	iss := newTestIssuer(t, lookup, clock)

	tok, err := iss.Issue(identity.Identity{ID: "7", Email: "gone@example.com", Role: identity.RoleAdmin})
	require.NoError(t, err)
	_, err = iss.Verify(context.Background(), tok.Value)
	assert.ErrorIs(t, err, ErrSubjectNotFound)

	// A subject whose email changed since issuance is treated as unknown.
	tok, err = iss.Issue(admin42)
	require.NoError(t, err)
	lookup.ids["42"] = identity.Identity{ID: "42", Email: "renamed@example.com", Role: identity.RoleAdmin}
	_, err = iss.Verify(context.Background(), tok.Value)
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}

func TestVerify_StoreFailureIsNotAuthError(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	lookup := &countingLookup{err: errors.New("db down")}
	iss := newTestIssuer(t, lookup, clock)

	tok, err := iss.Issue(admin42)
	require.NoError(t, err)
	_, err = iss.Verify(context.Background(), tok.Value)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSubjectNotFound))
	assert.False(t, errors.Is(err, ErrExpired))
	assert.False(t, errors.Is(err, ErrInvalidSignature))
	assert.False(t, errors.Is(err, ErrMalformed))
}

func TestNewIssuer_RejectsShortSecret(t *testing.T) {
	_, err := NewIssuer([]byte("short"), &countingLookup{})
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestWithTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	iss, err := NewIssuer([]byte(testSecret), &countingLookup{}, WithClock(clock.Now), WithTTL(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, iss.TTL())

	tok, err := iss.Issue(admin42)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), tok.ExpiresAt)
}
