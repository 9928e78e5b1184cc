// Package ratelimit implements fixed-window request counting per client key.
//
// A Limiter enforces one tier. Each tier owns its Store, so counts in one tier
// never affect another.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Tier names.
const (
	TierAdmin  = "admin"
	TierAuth   = "auth"
	TierUpload = "upload"
)

// DefaultSweepInterval is how often stale windows are removed.
const DefaultSweepInterval = 5 * time.Minute

// Config describes one tier.
type Config struct {
	Tier   string
	Window time.Duration
	Max    int
	// SkipSuccessful makes the tier count only failed requests. Callers
	// reserve a slot with Check and hand it back with Release once the
	// request turns out to have succeeded.
	SkipSuccessful bool
}

// AdminTier is the default configuration for the general admin API.
func AdminTier() Config {
	return Config{Tier: TierAdmin, Window: 15 * time.Minute, Max: 200}
}

// AuthTier is the default configuration for login attempts.
func AuthTier() Config {
	return Config{Tier: TierAuth, Window: 15 * time.Minute, Max: 10, SkipSuccessful: true}
}

// UploadTier is the default configuration for file uploads.
func UploadTier() Config {
	return Config{Tier: TierUpload, Window: time.Minute, Max: 10}
}

func (c Config) validate() error {
	if c.Tier == "" {
		return fmt.Errorf("rate limit tier: empty name")
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit tier %s: window must be positive", c.Tier)
	}
	if c.Max <= 0 {
		return fmt.Errorf("rate limit tier %s: max must be positive", c.Tier)
	}
	return nil
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed   bool
	Count     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is the tier window. Clients are told to back off for a
	// full window rather than until ResetAt.
	RetryAfter time.Duration
}

// Store counts requests per key inside a fixed window anchored at the first
// request of the window. Implementations must be safe for concurrent use.
type Store interface {
	// Increment counts one request for key and returns the new count. A
	// window that has ended is restarted at now.
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (count int, resetAt time.Time, err error)
	// Decrement gives back one request counted in the window ending at
	// resetAt. It does nothing if that window has since been replaced.
	Decrement(ctx context.Context, key string, resetAt time.Time) error
	Reset(ctx context.Context, key string) error
	// Sweep drops windows that ended before now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Limiter enforces one tier's limit.
type Limiter struct {
	cfg           Config
	store         Store
	now           func() time.Time
	logger        *slog.Logger
	sweepInterval time.Duration
	stopOnce      sync.Once
	stopCh        chan struct{}
	done          chan struct{}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithSweepInterval changes the background sweep period. Zero disables the
// background sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) {
		l.sweepInterval = d
	}
}

// New returns a Limiter for cfg. A nil store gets a fresh MemoryStore. The
// background sweep runs until Close.
func New(cfg Config, store Store, opts ...Option) (*Limiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Limiter{
		cfg:           cfg,
		store:         store,
		now:           time.Now,
		logger:        slog.Default(),
		sweepInterval: DefaultSweepInterval,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sweepInterval > 0 {
		go l.sweepLoop()
	} else {
		close(l.done)
	}
	return l, nil
}

// Config returns the tier configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Check counts one request for key and reports whether it is within the limit.
// The request that pushes the count past Max is the first one denied.
func (l *Limiter) Check(ctx context.Context, key string) (Decision, error) {
	count, resetAt, err := l.store.Increment(ctx, key, l.cfg.Window, l.now())
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", l.cfg.Tier, err)
	}
	return l.decide(count, resetAt, count <= l.cfg.Max), nil
}

// Release returns the slot d reserved for key. Tiers with SkipSuccessful
// call it for requests that did not fail.
func (l *Limiter) Release(ctx context.Context, key string, d Decision) error {
	if err := l.store.Decrement(ctx, key, d.ResetAt); err != nil {
		return fmt.Errorf("rate limit %s: %w", l.cfg.Tier, err)
	}
	return nil
}

// Reset clears the window for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

func (l *Limiter) decide(count int, resetAt time.Time, allowed bool) Decision {
	remaining := l.cfg.Max - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:    allowed,
		Count:      count,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: l.cfg.Window,
	}
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	<-l.done
}

func (l *Limiter) sweepLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	n, err := l.store.Sweep(context.Background(), l.now())
	if err != nil {
		l.logger.Warn("rate limit sweep failed", "tier", l.cfg.Tier, "error", err)
		return
	}
	if n > 0 {
		l.logger.Debug("rate limit sweep", "tier", l.cfg.Tier, "removed", n)
	}
}
