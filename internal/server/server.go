package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/inkwell-ai/inkwell/api"
	"github.com/inkwell-ai/inkwell/internal/ratelimit"
	"github.com/inkwell-ai/inkwell/internal/service/assumptions"
	"github.com/inkwell-ai/inkwell/internal/service/drafts"
)

// Server is the Inkwell HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds all dependencies and configuration for creating a Server.
type Config struct {
	Sessions *assumptions.Service
	Drafts   *drafts.Resolver
	Pinger   Pinger
	Logger   *slog.Logger
	Limiter  ratelimit.Limiter // nil disables rate limiting

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// Embedding extension points.
	ExtraRoutes []func(mux *http.ServeMux)
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured. Authentication is
// an upstream concern; this server trusts its ingress.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		Sessions: cfg.Sessions,
		Drafts:   cfg.Drafts,
		Pinger:   cfg.Pinger,
		Logger:   cfg.Logger,
		Version:  cfg.Version,
		MaxBody:  cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Assumption sessions.
	mux.HandleFunc("POST /v1/sessions", h.HandleStartSession)
	mux.HandleFunc("GET /v1/sessions/{session_id}", h.HandleGetSession)
	mux.HandleFunc("POST /v1/assumptions/{assumption_id}/respond", h.HandleRespond)

	// Draft proposals.
	mux.HandleFunc("POST /v1/sessions/{session_id}/proposals", h.HandleCreateProposal)
	mux.HandleFunc("GET /v1/sessions/{session_id}/proposals", h.HandleListProposals)

	// Streaming (long-lived SSE; no read body).
	mux.HandleFunc("GET /v1/sessions/{session_id}/events", h.HandleStreamEvents)
	mux.HandleFunc("POST /v1/sessions/{session_id}/stream/cancel", h.HandleCancelStream)

	// Sections and drafts.
	mux.HandleFunc("PUT /v1/sections/{section_id}", h.HandleUpsertSection)
	mux.HandleFunc("PUT /v1/sections/{section_id}/draft", h.HandleSaveDraft)
	mux.HandleFunc("GET /v1/sections/{section_id}/draft", h.HandleGetDraft)
	mux.HandleFunc("POST /v1/sections/{section_id}/draft-save-check", h.HandleSaveDraftCheck)
	mux.HandleFunc("GET /v1/sections/{section_id}/conflicts", h.HandleConflictLog)

	// Health and the API contract (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(api.OpenAPISpec)
	})

	for _, register := range cfg.ExtraRoutes {
		register(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → rate limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	if cfg.Limiter != nil {
		handler = ratelimit.Middleware(cfg.Limiter, rateLimitKey)(handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	// Consumer middlewares wrap everything; first registered is outermost.
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// rateLimitKey limits mutating traffic by client IP. Health, the contract,
// and long-lived event streams are exempt.
func rateLimitKey(r *http.Request) string {
	switch r.URL.Path {
	case "/health", "/openapi.yaml":
		return ""
	}
	if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/events") {
		return ""
	}
	return "ip:" + ratelimit.IPKeyFunc(r)
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
