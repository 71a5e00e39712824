// Package inkwell is the public API for embedding the Inkwell assumption
// resolution server.
//
// Host editor services import this package to construct and extend the
// server without forking it:
//
//	app, err := inkwell.New(
//	    inkwell.WithVersion(version),
//	    inkwell.WithLogger(logger),
//	    inkwell.WithTemplates(myTemplates),
//	    inkwell.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: inkwell (root) imports
// internal/*, but internal/* never imports inkwell (root). Public types
// (PromptTemplate, PromptOption) are standalone structs with no internal
// imports; conversion helpers live here because this is the only package
// that sees both sides of the boundary.
package inkwell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/decision"
	"github.com/inkwell-ai/inkwell/internal/provider/aistream"
	"github.com/inkwell-ai/inkwell/internal/ratelimit"
	"github.com/inkwell-ai/inkwell/internal/server"
	"github.com/inkwell-ai/inkwell/internal/service/assumptions"
	"github.com/inkwell-ai/inkwell/internal/service/drafts"
	"github.com/inkwell-ai/inkwell/internal/storage"
	"github.com/inkwell-ai/inkwell/internal/storage/lite"
	"github.com/inkwell-ai/inkwell/internal/stream"
	"github.com/inkwell-ai/inkwell/internal/telemetry"
	"github.com/inkwell-ai/inkwell/internal/template"
	"github.com/inkwell-ai/inkwell/migrations"
)

// store is the persistence surface the services need, satisfied by both the
// Postgres and SQLite backends.
type store interface {
	assumptions.Repository
	drafts.Repository
	Ping(ctx context.Context) error
}

// App is a fully constructed Inkwell server. Create one with New, then call
// Run (blocking) or Handler (for mounting into an existing server).
type App struct {
	cfg     config.Config
	opts    resolvedOptions
	logger  *slog.Logger
	cleanup []func()

	srv *server.Server
}

// New loads configuration from the environment, applies the given options on
// top, and wires the full service stack. It does not start listening; call
// Run for that.
func New(opts ...Option) (*App, error) {
	var o resolvedOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("inkwell: load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.StorageDriver = config.DriverPostgres
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.StorageDriver = config.DriverSQLite
		cfg.SQLitePath = o.sqlitePath
	}
	if o.version != "" {
		cfg.Version = o.version
	}
	if o.decisionURL != "" {
		cfg.DecisionServiceURL = o.decisionURL
	}
	if o.aiGatewayURL != "" {
		cfg.AIGatewayURL = o.aiGatewayURL
	}
	if o.rateLimitRPS > 0 {
		cfg.RateLimitRPS = o.rateLimitRPS
		cfg.RateLimitBurst = o.rateLimitBurst
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{cfg: cfg, opts: o, logger: logger}

	// Telemetry comes up first so the services bind their instruments to the
	// real meter provider.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, cfg.Version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("inkwell: telemetry: %w", err)
	}
	app.cleanup = append(app.cleanup, func() { _ = otelShutdown(context.Background()) })

	if err := app.wire(context.Background()); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

// wire builds the service stack into app.srv, accumulating cleanup hooks for
// everything it opens.
func (a *App) wire(ctx context.Context) error {
	cfg := a.cfg

	var db store
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pg, err := storage.New(ctx, cfg.DatabaseURL, a.logger)
		if err != nil {
			return fmt.Errorf("inkwell: storage: %w", err)
		}
		a.cleanup = append(a.cleanup, pg.Close)
		if err := pg.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("inkwell: migrations: %w", err)
		}
		db = pg
	case config.DriverSQLite:
		sq, err := lite.Open(ctx, cfg.SQLitePath, a.logger)
		if err != nil {
			return fmt.Errorf("inkwell: storage: %w", err)
		}
		a.cleanup = append(a.cleanup, func() { _ = sq.Close() })
		db = sq
	}

	var decisions assumptions.DecisionProvider
	if cfg.DecisionServiceURL != "" {
		p, err := decision.NewHTTPProvider(decision.Config{
			BaseURL:  cfg.DecisionServiceURL,
			Timeout:  cfg.DecisionTimeout,
			CacheTTL: cfg.DecisionCacheTTL,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("inkwell: decision provider: %w", err)
		}
		decisions = p
	} else {
		decisions = &decision.StaticProvider{}
	}

	var streams assumptions.StreamProvider
	if cfg.AIGatewayURL != "" {
		p, err := aistream.NewHTTPProvider(aistream.HTTPConfig{
			BaseURL: cfg.AIGatewayURL,
			Timeout: cfg.AIGatewayTimeout,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("inkwell: ai gateway: %w", err)
		}
		streams = p
	} else {
		streams = &aistream.ScriptedProvider{Stages: a.opts.streamScript, Delay: a.opts.streamDelay}
	}

	templateSet := template.DefaultTemplates()
	if len(a.opts.templates) > 0 {
		templateSet = toInternalTemplates(a.opts.templates)
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		mem := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		a.cleanup = append(a.cleanup, func() { _ = mem.Close() })
		limiter = mem
	}

	hub := stream.NewHub(stream.NewQueue(a.logger), cfg.SubscriberBuffer, time.Now, a.logger)

	sessions := assumptions.New(
		db,
		&template.StaticProvider{Default: templateSet},
		decisions,
		streams,
		hub,
		assumptions.SystemClock{},
		a.logger,
	)
	resolver := drafts.NewResolver(db, nil, a.logger)

	extraRoutes := make([]func(mux *http.ServeMux), len(a.opts.routeRegistrars))
	for i, fn := range a.opts.routeRegistrars {
		extraRoutes[i] = fn
	}
	middlewares := make([]func(http.Handler) http.Handler, len(a.opts.middlewares))
	for i, mw := range a.opts.middlewares {
		middlewares[i] = mw
	}

	a.srv = server.New(server.Config{
		Sessions:            sessions,
		Drafts:              resolver,
		Pinger:              db,
		Logger:              a.logger,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
	})
	return nil
}

// Handler returns the root HTTP handler for mounting into an existing server.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the HTTP server and blocks until ctx is canceled or the server
// fails. Owned resources are released before return.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	a.logger.Info("inkwell starting",
		"version", a.cfg.Version, "port", a.cfg.Port, "storage", a.cfg.StorageDriver)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("inkwell: server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.srv.Shutdown(shutdownCtx)
}

// close runs accumulated cleanup hooks in reverse order.
func (a *App) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
