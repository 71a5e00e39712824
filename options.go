package inkwell

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	sqlitePath      string
	logger          *slog.Logger
	version         string
	templates       []PromptTemplate
	decisionURL     string
	aiGatewayURL    string
	streamScript    []string
	streamDelay     time.Duration
	rateLimitRPS    float64
	rateLimitBurst  int
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware
}

// WithPort overrides the TCP port from config (INKWELL_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var) and selects the postgres driver.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath selects the SQLite driver with the given database path.
// Use ":memory:" for an ephemeral store.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithTemplates replaces the built-in assumption interview with the given
// prompt templates. They apply to every section.
func WithTemplates(templates []PromptTemplate) Option {
	return func(o *resolvedOptions) { o.templates = templates }
}

// WithDecisionServiceURL points the decision guard at a remote snapshot
// service. Without it the guard runs permissively.
func WithDecisionServiceURL(url string) Option {
	return func(o *resolvedOptions) { o.decisionURL = url }
}

// WithAIGatewayURL points streaming at the upstream AI gateway. Without it
// the scripted provider plays a fixed stage script.
func WithAIGatewayURL(url string) Option {
	return func(o *resolvedOptions) { o.aiGatewayURL = url }
}

// WithStreamScript replaces the scripted provider's stages and inter-stage
// delay. Ignored when an AI gateway URL is configured.
func WithStreamScript(stages []string, delay time.Duration) Option {
	return func(o *resolvedOptions) {
		o.streamScript = stages
		o.streamDelay = delay
	}
}

// WithRateLimit enables per-IP rate limiting on mutating endpoints.
// A zero rate disables the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *resolvedOptions) {
		o.rateLimitRPS = rps
		o.rateLimitBurst = burst
	}
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an outermost HTTP middleware.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
