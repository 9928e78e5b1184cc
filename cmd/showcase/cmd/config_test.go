package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/showcase/config"
)

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "showcase.yaml")
	require.NoError(t, initConfig(path, false))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.NoError(t, cfg.RequireSecret())
	assert.Len(t, cfg.Auth.JWTSecret, 2*config.MinJWTSecretLen)
	assert.Equal(t, config.Default().RateLimits, cfg.RateLimits)

	assert.ErrorContains(t, initConfig(path, false), "already exists")

	require.NoError(t, initConfig(path, true))
	again, err := config.Load(path)
	require.NoError(t, err)
	assert.NotEqual(t, cfg.Auth.JWTSecret, again.Auth.JWTSecret)
}
