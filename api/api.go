package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/showcase/audit"
	"github.com/jmcleod/showcase/content"
	"github.com/jmcleod/showcase/csrf"
	"github.com/jmcleod/showcase/identity"
	"github.com/jmcleod/showcase/internal/metrics"
	"github.com/jmcleod/showcase/ratelimit"
	"github.com/jmcleod/showcase/session"
)

const (
	defaultMaxBodySize   = 1 << 20
	defaultMaxUploadSize = 10 << 20
	defaultIdleTimeout   = 30 * time.Minute
	defaultIdleWarning   = 5 * time.Minute
)

// Limiters holds the three rate limit tiers.
type Limiters struct {
	Admin  *ratelimit.Limiter
	Auth   *ratelimit.Limiter
	Upload *ratelimit.Limiter
}

// Deps are the collaborators the handlers and the middleware chain need.
type Deps struct {
	Identities  *identity.Store
	Issuer      *session.Issuer
	CSRF        *csrf.Manager
	Limiters    Limiters
	Audit       *audit.Logger
	SecurityLog *audit.Store
	Content     *content.Store
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	identities  *identity.Store
	issuer      *session.Issuer
	csrf        *csrf.Manager
	limiters    Limiters
	audit       *audit.Logger
	securityLog *audit.Store
	content     *content.Store
	metrics     *metrics.Metrics
	logger      *slog.Logger

	trustedProxies    []netip.Prefix
	genericAuthErrors bool
	adminPerSubject   bool
	idleTimeout       time.Duration
	idleWarning       time.Duration
	maxBodySize       int64
	maxUploadSize     int64
	now               func() time.Time
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the diagnostic logger. Security events go to the audit
// logger, not here.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithMetrics enables Prometheus counters for pipeline decisions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

// WithTrustedProxies lists the peers whose forwarding headers are believed
// when resolving the client address.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithGenericAuthErrors collapses the 401 reasons (missing, invalid, expired,
// unknown subject) into one message and code.
func WithGenericAuthErrors(enabled bool) Option {
	return func(a *API) {
		a.genericAuthErrors = enabled
	}
}

// WithAdminKeyPerSubject suffixes the admin tier key with the token subject
// so admins behind one address get separate budgets.
func WithAdminKeyPerSubject(enabled bool) Option {
	return func(a *API) {
		a.adminPerSubject = enabled
	}
}

// WithIdleTimeout sets the client-side idle timer values reported at login.
// They are independent of the token lifetime.
func WithIdleTimeout(timeout, warning time.Duration) Option {
	return func(a *API) {
		if timeout > 0 {
			a.idleTimeout = timeout
		}
		if warning > 0 {
			a.idleWarning = warning
		}
	}
}

// WithBodyLimits caps JSON request bodies and uploads, in bytes.
func WithBodyLimits(body, upload int64) Option {
	return func(a *API) {
		if body > 0 {
			a.maxBodySize = body
		}
		if upload > 0 {
			a.maxUploadSize = upload
		}
	}
}

// WithClock sets the time source for login timestamps and action durations.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// New creates a new API instance.
func New(deps Deps, opts ...Option) *API {
	a := &API{
		identities:    deps.Identities,
		issuer:        deps.Issuer,
		csrf:          deps.CSRF,
		limiters:      deps.Limiters,
		audit:         deps.Audit,
		securityLog:   deps.SecurityLog,
		content:       deps.Content,
		logger:        slog.Default(),
		idleTimeout:   defaultIdleTimeout,
		idleWarning:   defaultIdleWarning,
		maxBodySize:   defaultMaxBodySize,
		maxUploadSize: defaultMaxUploadSize,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router returns a chi.Router with all API routes mounted. It is meant to be
// mounted under /api.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/redoc",
	}, nil))

	r.With(a.RateLimit(a.limiters.Auth), LimitBody(a.maxBodySize)).Post("/auth/login", a.Login)
	r.With(a.Authenticate).Get("/auth/verify", a.Verify)

	r.Route("/admin", func(r chi.Router) {
		r.Use(a.RateLimit(a.limiters.Admin))
		r.Use(a.Authenticate)
		r.Use(a.RequireRole(identity.RoleAdmin))

		r.Group(func(r chi.Router) {
			r.Use(LimitBody(a.maxBodySize))
			r.Use(a.RequireCSRF)
			r.Use(a.AuditActions)

			r.Get("/csrf-token", a.IssueCSRFToken)
			r.Get("/me", a.Me)
			r.Put("/password", a.ChangePassword)
			r.Get("/security-logs", a.ListSecurityLogs)
			r.Get("/content/{key}", a.GetContent)
			r.Put("/content/{key}", a.PutContent)
			r.Delete("/content/{key}", a.DeleteContent)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.RateLimit(a.limiters.Upload))
			r.Use(LimitBody(a.maxUploadSize))
			r.Use(a.RequireCSRF)
			r.Use(a.AuditActions)

			r.Post("/uploads", a.Upload)
		})
	})

	return r
}
