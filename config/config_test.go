package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "showcase.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvPostgresDSN, "")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 8443, c.Server.Port)
	assert.Equal(t, DriverBolt, c.Storage.Driver)
	assert.Equal(t, filepath.Join("data", "showcase.db"), filepath.Clean(c.Storage.Path))
	assert.Equal(t, 24*time.Hour, c.Auth.TokenTTL)
	assert.Equal(t, 30*time.Minute, c.CSRF.TTL)
	assert.Equal(t, TierConfig{Window: 15 * time.Minute, Max: 200}, c.RateLimits.Admin)
	assert.Equal(t, TierConfig{Window: 15 * time.Minute, Max: 10}, c.RateLimits.Auth)
	assert.Equal(t, TierConfig{Window: time.Minute, Max: 10}, c.RateLimits.Upload)
	assert.Equal(t, 30*time.Minute, c.Auth.IdleTimeout)
	assert.Equal(t, 5*time.Minute, c.Auth.IdleWarning)
	assert.Equal(t, "repository", c.Audit.Analytics)
	assert.Error(t, c.RequireSecret())
}

func TestLoad_File(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvPostgresDSN, "")
	path := writeConfig(t, `
log:
  level: debug
  format: text
server:
  port: 9000
  trusted_proxies: ["10.0.0.0/8", "192.168.1.10"]
storage:
  driver: sqlite
  path: /var/lib/showcase/db.sqlite
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  generic_errors: true
rate_limits:
  admin:
    window: 5m
    max: 50
    per_subject: true
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 9000, c.Server.Port)
	assert.Equal(t, DriverSQLite, c.Storage.Driver)
	assert.True(t, c.Auth.GenericErrors)
	assert.NoError(t, c.RequireSecret())
	assert.Equal(t, TierConfig{Window: 5 * time.Minute, Max: 50, PerSubject: true}, c.RateLimits.Admin)

	prefixes, err := c.TrustedProxyPrefixes()
	require.NoError(t, err)
	require.Len(t, prefixes, 2)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.168.1.10/32", prefixes[1].String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvJWTSecret, "env-secret-0123456789abcdef-0123456789")
	t.Setenv(EnvPostgresDSN, "postgres://showcase@localhost/showcase")

	c, err := Load(writeConfig(t, "auth:\n  jwt_secret: file-secret-0123456789abcdef-012345\n"))
	require.NoError(t, err)
	assert.Equal(t, "env-secret-0123456789abcdef-0123456789", c.Auth.JWTSecret)
	assert.Equal(t, DriverPostgres, c.Storage.Driver)
	assert.Equal(t, "postgres://showcase@localhost/showcase", c.Storage.PostgresDSN)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvPostgresDSN, "")

	cases := map[string]string{
		"port":         "server:\n  port: 70000\n",
		"tls pair":     "server:\n  tls_cert: /tmp/cert.pem\n",
		"proxy":        "server:\n  trusted_proxies: [\"not-an-ip\"]\n",
		"driver":       "storage:\n  driver: mongo\n",
		"postgres dsn": "storage:\n  driver: postgres\n",
		"short secret": "auth:\n  jwt_secret: short\n",
		"idle":         "auth:\n  idle_timeout: 1m\n  idle_warning: 2m\n",
		"csrf store":   "csrf:\n  store: redis\n",
		"per subject":  "rate_limits:\n  auth:\n    per_subject: true\n",
		"webhook url":  "audit:\n  analytics: webhook\n",
		"metrics path": "metrics:\n  path: metrics\n",
		"yaml":         "server: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvPostgresDSN, "")

	path := filepath.Join(t.TempDir(), "nested", "showcase.yaml")
	require.NoError(t, Save(path, Default()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "window: 15m0s"))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestAddr(t *testing.T) {
	c := Default()
	assert.Equal(t, "127.0.0.1:8443", c.Addr())
}
