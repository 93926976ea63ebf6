// Package arbiter is the public API for embedding the Verdikta arbitration
// external adapter.
//
// Operators normally run the adapter via cmd/verdikta-adapter, but node
// distributions that bundle several oracle services embed it instead:
//
//	app, err := arbiter.New(
//	    arbiter.WithVersion(version),
//	    arbiter.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: arbiter (root) imports
// internal/*, but internal/* never imports arbiter (root). The Fetcher
// extension point is a standalone interface with no internal imports so
// embedders can swap the IPFS gateway client without forking.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/verdikta/arbiter-adapter/internal/aiclient"
	"github.com/verdikta/arbiter-adapter/internal/commitreveal"
	"github.com/verdikta/arbiter-adapter/internal/config"
	"github.com/verdikta/arbiter-adapter/internal/dispatcher"
	"github.com/verdikta/arbiter-adapter/internal/ipfs"
	"github.com/verdikta/arbiter-adapter/internal/manifest"
	"github.com/verdikta/arbiter-adapter/internal/mcpintrospect"
	"github.com/verdikta/arbiter-adapter/internal/publisher"
	"github.com/verdikta/arbiter-adapter/internal/telemetry"
)

// Fetcher retrieves the raw bytes addressed by a content identifier.
// Implement it to replace the built-in IPFS gateway client (e.g. with a
// local IPFS node, a caching proxy, or a test fixture).
type Fetcher interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// App is the adapter lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	srv          *dispatcher.Server
	cache        *commitreveal.Cache
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the adapter: loads configuration, wires the dependency
// graph (IPFS client → resolver → AI client → commit cache → publisher →
// dispatcher), and returns a ready-to-run App. It starts the commit cache's
// sweeper goroutine but does NOT accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.aiNodeURL != "" {
		cfg.AINodeURL = o.aiNodeURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("verdikta arbiter adapter starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if err := os.MkdirAll(cfg.WorkDirRoot, 0o700); err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("create work dir root: %w", err)
	}

	ipfsClient := ipfs.NewClient(cfg.IPFSGateways, cfg.IPFSPinningService, cfg.IPFSPinningKey, cfg.IPFSFetchTimeout, cfg.IPFSPinTimeout, logger)

	// External fetcher override replaces the gateway client for archive
	// resolution only; pinning always goes through the built-in client.
	var fetcher manifest.Fetcher = ipfsClient
	if o.fetcher != nil {
		fetcher = o.fetcher
	}

	resolver := manifest.NewResolver(fetcher)
	aiClient := aiclient.NewClient(cfg.AINodeURL, cfg.AICallTimeout, logger)
	cache := commitreveal.NewCache(cfg.RevealTTL)
	pub := publisher.NewPublisher(ipfsClient, logger)

	srvCfg := dispatcher.ServerConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		RequestDeadline: cfg.RequestDeadline,
		WorkDirRoot:     cfg.WorkDirRoot,
		MaxInflight:     cfg.MaxInflight,
		Resolver:        resolver,
		AIClient:        aiClient,
		Cache:           cache,
		Publisher:       pub,
		Readiness:       ipfsClient,
		Logger:          logger,
	}
	if cfg.MCPEnabled {
		srvCfg.MCPServer = mcpintrospect.New(cache, resolver, cfg.WorkDirRoot, version, logger).MCPServer()
		logger.Info("mcp introspection surface enabled", "path", "/mcp")
	}

	return &App{
		cfg:          cfg,
		srv:          dispatcher.New(srvCfg),
		cache:        cache,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is canceled or the
// server fails. On cancellation it performs a graceful Shutdown; a server
// failure is returned as-is, without calling Shutdown.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully stops the adapter: drains in-flight HTTP requests,
// stops the commit-cache sweeper, and flushes telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("verdikta arbiter adapter shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	a.cache.Close()
	_ = a.otelShutdown(context.Background())

	a.logger.Info("verdikta arbiter adapter stopped")
	return nil
}
