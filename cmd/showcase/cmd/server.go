package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/showcase/api"
	"github.com/jmcleod/showcase/audit"
	"github.com/jmcleod/showcase/config"
	"github.com/jmcleod/showcase/content"
	"github.com/jmcleod/showcase/csrf"
	"github.com/jmcleod/showcase/identity"
	"github.com/jmcleod/showcase/internal/logging"
	"github.com/jmcleod/showcase/internal/metrics"
	"github.com/jmcleod/showcase/internal/util"
	"github.com/jmcleod/showcase/ratelimit"
	"github.com/jmcleod/showcase/session"
	"github.com/jmcleod/showcase/storage"
)

var (
	port    int
	dataDir string
	tlsCert string
	tlsKey  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the admin API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyServerFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.RequireSecret(); err != nil {
			return err
		}

		logger, err := logging.New(logging.Options{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			SetDefault: true,
		})
		if err != nil {
			return err
		}

		repo, closeRepo, err := openRepository(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		handler, shutdown, err := newServer(cmd.Context(), cfg, repo, logger)
		if err != nil {
			return err
		}
		defer shutdown()

		server := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		}
		if !cfg.Server.Insecure {
			tlsConfig, err := loadTLSConfig(cfg.Server.TLSCert, cfg.Server.TLSKey)
			if err != nil {
				return err
			}
			server.TLSConfig = tlsConfig
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if cfg.Server.Insecure {
				err = server.ListenAndServe()
			} else {
				err = server.ListenAndServeTLS("", "")
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		logger.Info("server started",
			"addr", cfg.Addr(),
			"storage", cfg.Storage.Driver,
			"tls", !cfg.Server.Insecure,
		)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on (overrides server.port)")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data (overrides server.data_dir)")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}

// applyServerFlags copies explicitly set flags over the file configuration.
func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = port
	}
	if flags.Changed("data-dir") {
		cfg.Server.DataDir = dataDir
		switch cfg.Storage.Driver {
		case config.DriverBolt, config.DriverSQLite:
			cfg.Storage.Path = filepath.Join(dataDir, filepath.Base(cfg.Storage.Path))
		}
	}
	if flags.Changed("tls-cert") {
		cfg.Server.TLSCert = tlsCert
	}
	if flags.Changed("tls-key") {
		cfg.Server.TLSKey = tlsKey
	}
}

func loadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}, nil
	}
	cert, err := util.GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	fmt.Println("Using self-signed runtime generated certificate for TLS")
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// newServer wires the security pipeline and the admin API onto repo. The
// returned func drains the audit queue and stops background goroutines; it
// must run before repo is closed.
func newServer(ctx context.Context, cfg config.Config, repo storage.Repository, logger *slog.Logger) (http.Handler, func(), error) {
	var cleanups []func()
	shutdown := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (http.Handler, func(), error) {
		shutdown()
		return nil, nil, err
	}

	m := metrics.New()
	identities := identity.NewStore(repo)
	if n, err := identities.Count(ctx); err != nil {
		return fail(fmt.Errorf("counting identities: %w", err))
	} else if n == 0 {
		logger.Warn("no admin identities provisioned; run `showcase admin create`")
	}

	secret := []byte(cfg.Auth.JWTSecret)
	issuer, err := session.NewIssuer(secret, identities, session.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return fail(fmt.Errorf("creating session issuer: %w", err))
	}

	var csrfStore csrf.Store
	switch cfg.CSRF.Store {
	case "repository":
		rs, err := csrf.NewRepositoryStore(repo, secret)
		if err != nil {
			return fail(fmt.Errorf("creating csrf store: %w", err))
		}
		cleanups = append(cleanups, rs.Close)
		csrfStore = rs
	default:
		csrfStore = csrf.NewMemoryStore()
	}
	csrfManager := csrf.NewManager(csrfStore, csrf.WithTTL(cfg.CSRF.TTL), csrf.WithLogger(logger))

	limiters := api.Limiters{}
	for _, t := range []struct {
		cfg  config.TierConfig
		rl   ratelimit.Config
		dest **ratelimit.Limiter
	}{
		{cfg.RateLimits.Admin, ratelimit.AdminTier(), &limiters.Admin},
		{cfg.RateLimits.Auth, ratelimit.AuthTier(), &limiters.Auth},
		{cfg.RateLimits.Upload, ratelimit.UploadTier(), &limiters.Upload},
	} {
		rl := t.rl
		rl.Window = t.cfg.Window
		rl.Max = t.cfg.Max
		l, err := ratelimit.New(rl, ratelimit.NewMemoryStore(), ratelimit.WithLogger(logger))
		if err != nil {
			return fail(err)
		}
		cleanups = append(cleanups, l.Close)
		*t.dest = l
	}

	securityLog := audit.NewStore(repo)
	auditOpts := []audit.LoggerOption{
		audit.WithSlog(logger),
		audit.WithMetrics(m),
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithAlerts(audit.NewAlertDetector(audit.AlertThresholds{
			RateLimit:    cfg.Audit.Alerts.RateLimitPerMinute,
			LoginFailure: cfg.Audit.Alerts.LoginFailurePerMinute,
		}, audit.LogAlert(logger, m))),
	}
	switch cfg.Audit.Analytics {
	case "repository":
		auditOpts = append(auditOpts, audit.WithAnalytics(audit.NewRepositoryAnalytics(repo)))
	case "webhook":
		wh := audit.NewWebhookAnalytics(audit.WebhookConfig{
			URL:        cfg.Audit.Webhook.URL,
			AuthHeader: cfg.Audit.Webhook.AuthHeader,
			Logger:     logger,
		})
		// Registered before the logger so it closes after the queue drains.
		cleanups = append(cleanups, wh.Close)
		auditOpts = append(auditOpts, audit.WithAnalytics(wh))
	}
	auditLogger := audit.NewLogger(securityLog, auditOpts...)
	cleanups = append(cleanups, auditLogger.Close)

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return fail(err)
	}

	a := api.New(api.Deps{
		Identities:  identities,
		Issuer:      issuer,
		CSRF:        csrfManager,
		Limiters:    limiters,
		Audit:       auditLogger,
		SecurityLog: securityLog,
		Content:     content.NewStore(repo),
	},
		api.WithLogger(logger),
		api.WithMetrics(m),
		api.WithTrustedProxies(proxies),
		api.WithGenericAuthErrors(cfg.Auth.GenericErrors),
		api.WithAdminKeyPerSubject(cfg.RateLimits.Admin.PerSubject),
		api.WithIdleTimeout(cfg.Auth.IdleTimeout, cfg.Auth.IdleWarning),
		api.WithBodyLimits(int64(cfg.Server.MaxBodyKB)<<10, int64(cfg.Server.MaxUploadMB)<<20),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Mount("/api", a.Router())
	if cfg.Metrics.Enabled {
		r.Method(http.MethodGet, cfg.Metrics.Path, m.Handler())
	}

	return r, shutdown, nil
}
