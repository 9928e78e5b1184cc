// Package config loads and validates the showcase YAML configuration.
// Defaults are applied so callers can rely on fully populated values.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables overriding file values.
const (
	EnvJWTSecret   = "SHOWCASE_JWT_SECRET"
	EnvPostgresDSN = "SHOWCASE_POSTGRES_DSN"
)

// MinJWTSecretLen is the shortest accepted signing secret.
const MinJWTSecretLen = 32

// Storage drivers.
const (
	DriverBolt     = "bbolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Bind           string   `yaml:"bind"`
	Port           int      `yaml:"port"`
	DataDir        string   `yaml:"data_dir"`
	TLSCert        string   `yaml:"tls_cert"`
	TLSKey         string   `yaml:"tls_key"`
	Insecure       bool     `yaml:"insecure"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
	MaxBodyKB      int      `yaml:"max_body_kb"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// GenericErrors collapses the 401 reasons into one message.
	GenericErrors bool          `yaml:"generic_errors"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	IdleWarning   time.Duration `yaml:"idle_warning"`
}

// CSRFConfig holds CSRF token settings.
type CSRFConfig struct {
	TTL time.Duration `yaml:"ttl"`
	// Store is "memory" or "repository".
	Store string `yaml:"store"`
}

// TierConfig configures one rate limit tier.
type TierConfig struct {
	Window     time.Duration `yaml:"window"`
	Max        int           `yaml:"max"`
	PerSubject bool          `yaml:"per_subject"`
}

// RateLimitConfig holds the three tiers.
type RateLimitConfig struct {
	Admin  TierConfig `yaml:"admin"`
	Auth   TierConfig `yaml:"auth"`
	Upload TierConfig `yaml:"upload"`
}

// WebhookConfig configures the external analytics endpoint.
type WebhookConfig struct {
	URL        string `yaml:"url"`
	AuthHeader string `yaml:"auth_header"`
}

// AlertConfig holds per-minute anomaly thresholds.
type AlertConfig struct {
	RateLimitPerMinute    int `yaml:"rate_limit_per_minute"`
	LoginFailurePerMinute int `yaml:"login_failure_per_minute"`
}

// AuditConfig holds security log settings.
type AuditConfig struct {
	QueueSize int `yaml:"queue_size"`
	// Analytics is "repository", "webhook" or "none".
	Analytics string        `yaml:"analytics"`
	Webhook   WebhookConfig `yaml:"webhook"`
	Alerts    AlertConfig   `yaml:"alerts"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config mirrors the showcase.yaml schema.
type Config struct {
	Log        LogConfig       `yaml:"log"`
	Server     ServerConfig    `yaml:"server"`
	Storage    StorageConfig   `yaml:"storage"`
	Auth       AuthConfig      `yaml:"auth"`
	CSRF       CSRFConfig      `yaml:"csrf"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Audit      AuditConfig     `yaml:"audit"`
	Metrics    MetricsConfig   `yaml:"metrics"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var c Config
	applyDefaults(&c)
	return c
}

// Load reads a YAML file, applies environment overrides and defaults, and
// validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	applyEnv(&c)
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Save writes c as YAML, creating parent directories.
func Save(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func applyEnv(c *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPostgresDSN)); v != "" {
		c.Storage.PostgresDSN = v
		if c.Storage.Driver == "" {
			c.Storage.Driver = DriverPostgres
		}
	}
}

// applyDefaults populates zero values.
func applyDefaults(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Server.Bind == "" {
		c.Server.Bind = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8443
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = "./data"
	}
	if c.Server.MaxBodyKB == 0 {
		c.Server.MaxBodyKB = 1024
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 10
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverBolt
	}
	if c.Storage.Path == "" {
		switch c.Storage.Driver {
		case DriverBolt:
			c.Storage.Path = filepath.Join(c.Server.DataDir, "showcase.db")
		case DriverSQLite:
			c.Storage.Path = filepath.Join(c.Server.DataDir, "showcase.sqlite")
		}
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Auth.IdleTimeout == 0 {
		c.Auth.IdleTimeout = 30 * time.Minute
	}
	if c.Auth.IdleWarning == 0 {
		c.Auth.IdleWarning = 5 * time.Minute
	}
	if c.CSRF.TTL == 0 {
		c.CSRF.TTL = 30 * time.Minute
	}
	if c.CSRF.Store == "" {
		c.CSRF.Store = "memory"
	}
	defaultTier(&c.RateLimits.Admin, 15*time.Minute, 200)
	defaultTier(&c.RateLimits.Auth, 15*time.Minute, 10)
	defaultTier(&c.RateLimits.Upload, time.Minute, 10)
	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = 4096
	}
	if c.Audit.Analytics == "" {
		if c.Audit.Webhook.URL != "" {
			c.Audit.Analytics = "webhook"
		} else {
			c.Audit.Analytics = "repository"
		}
	}
	if c.Audit.Alerts.RateLimitPerMinute == 0 {
		c.Audit.Alerts.RateLimitPerMinute = 50
	}
	if c.Audit.Alerts.LoginFailurePerMinute == 0 {
		c.Audit.Alerts.LoginFailurePerMinute = 25
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func defaultTier(t *TierConfig, window time.Duration, max int) {
	if t.Window == 0 {
		t.Window = window
	}
	if t.Max == 0 {
		t.Max = max
	}
}

// Validate performs sanity checks. It does not mutate the config and does
// not require a signing secret; see RequireSecret.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port is invalid")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if c.Server.MaxBodyKB < 1 {
		return errors.New("server.max_body_kb is invalid")
	}
	if c.Server.MaxUploadMB < 1 || c.Server.MaxUploadMB > 1024 {
		return errors.New("server.max_upload_mb is invalid")
	}
	switch c.Storage.Driver {
	case DriverBolt, DriverSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for %s", c.Storage.Driver)
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return fmt.Errorf("storage.postgres_dsn (or %s) is required for postgres", EnvPostgresDSN)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLen)
	}
	if c.Auth.TokenTTL < 0 || c.CSRF.TTL < 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.Auth.IdleWarning >= c.Auth.IdleTimeout {
		return errors.New("auth.idle_warning must be shorter than auth.idle_timeout")
	}
	switch c.CSRF.Store {
	case "memory", "repository":
	default:
		return fmt.Errorf("csrf.store %q is not supported", c.CSRF.Store)
	}
	for name, t := range map[string]TierConfig{
		"admin":  c.RateLimits.Admin,
		"auth":   c.RateLimits.Auth,
		"upload": c.RateLimits.Upload,
	} {
		if t.Window <= 0 || t.Max <= 0 {
			return fmt.Errorf("rate_limits.%s is invalid", name)
		}
	}
	if c.RateLimits.Auth.PerSubject || c.RateLimits.Upload.PerSubject {
		return errors.New("rate_limits.per_subject is only supported for the admin tier")
	}
	switch c.Audit.Analytics {
	case "repository", "none":
	case "webhook":
		if c.Audit.Webhook.URL == "" {
			return errors.New("audit.webhook.url is required for webhook analytics")
		}
	default:
		return fmt.Errorf("audit.analytics %q is not supported", c.Audit.Analytics)
	}
	if c.Audit.QueueSize < 1 {
		return errors.New("audit.queue_size is invalid")
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	return nil
}

// RequireSecret reports an error unless a signing secret is configured.
func (c Config) RequireSecret() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret (or %s) is required", EnvJWTSecret)
	}
	return nil
}

// TrustedProxyPrefixes parses server.trusted_proxies. Bare addresses are
// treated as single-host prefixes.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.Server.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: invalid entry %q", raw)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
