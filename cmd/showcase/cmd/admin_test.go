package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/showcase/identity"
	"github.com/jmcleod/showcase/storage/memory"
)

func TestCreateAdmin(t *testing.T) {
	ctx := context.Background()
	store := identity.NewStore(memory.NewRepository())

	id, err := createAdmin(ctx, store, "Ada@Example.com", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.Equal(t, identity.RoleAdmin, id.Role)

	_, err = createAdmin(ctx, store, "ada@example.com", "another long password")
	assert.ErrorContains(t, err, "already exists")

	_, err = createAdmin(ctx, store, "grace@example.com", "short")
	assert.ErrorIs(t, err, identity.ErrWeakPassword)
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()
	store := identity.NewStore(memory.NewRepository())
	_, err := createAdmin(ctx, store, "ada@example.com", "correct horse battery")
	require.NoError(t, err)

	require.NoError(t, resetPassword(ctx, store, "ada@example.com", "a brand new passphrase"))
	_, err = store.Authenticate(ctx, "ada@example.com", "a brand new passphrase")
	assert.NoError(t, err)
	_, err = store.Authenticate(ctx, "ada@example.com", "correct horse battery")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	assert.ErrorContains(t, resetPassword(ctx, store, "nobody@example.com", "a brand new passphrase"), "no identity")
}

func TestReadPasswordLine(t *testing.T) {
	got, err := readPasswordLine(strings.NewReader("s3cret passphrase\r\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret passphrase", got)

	got, err = readPasswordLine(strings.NewReader("no newline"))
	require.NoError(t, err)
	assert.Equal(t, "no newline", got)

	_, err = readPasswordLine(strings.NewReader("\n"))
	assert.Error(t, err)
}
