// Package dispatcher implements the oracle-facing HTTP server: request
// decoding, the commit-reveal mode dispatch, and orchestration of the
// manifest resolver, AI client, and justification publisher for one
// request.
package dispatcher

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/verdikta/arbiter-adapter/internal/aiclient"
	"github.com/verdikta/arbiter-adapter/internal/commitreveal"
	"github.com/verdikta/arbiter-adapter/internal/manifest"
	"github.com/verdikta/arbiter-adapter/internal/publisher"
)

// Pinger reports whether an external dependency is reachable, backing the
// readiness probe. The adapter wires internal/ipfs.Client, whose Ping
// checks the first IPFS gateway only (not the pinning service).
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig collects every dependency the dispatcher needs to serve a
// request. All fields are required unless noted.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestDeadline time.Duration
	WorkDirRoot     string
	MaxInflight     int

	Resolver  *manifest.Resolver
	AIClient  *aiclient.Client
	Cache     *commitreveal.Cache
	Publisher *publisher.Publisher
	Readiness Pinger // optional; /ready always returns healthy if nil

	// MCPServer, when non-nil, is mounted at /mcp as a read-only
	// introspection surface (internal/mcpintrospect). Not part of the
	// oracle-facing contract.
	MCPServer *mcpserver.MCPServer

	Logger *slog.Logger
}

// Server is the oracle-facing HTTP server.
type Server struct {
	cfg        ServerConfig
	logger     *slog.Logger
	httpServer *http.Server
}

// New wires the dependency graph into a routed, middleware-wrapped HTTP
// server. The mux is not yet listening; call Start.
func New(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.Handle("POST /", inflightMiddleware(cfg.MaxInflight, logger, http.HandlerFunc(s.handleOracle)))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Applied innermost-out: recovery closest to the handler, request ID
	// outermost so every later middleware (and the access log) sees it.
	var handler http.Handler = mux
	handler = recoveryMiddleware(logger, handler)
	handler = loggingMiddleware(logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start begins serving and blocks until the server stops or fails.
// http.ErrServerClosed is swallowed; callers should treat any other
// return value as a startup or runtime failure.
func (s *Server) Start() error {
	s.logger.Info("adapter listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, letting in-flight requests finish
// within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
