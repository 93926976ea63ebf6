package arbiter

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port      int
	aiNodeURL string
	logger    *slog.Logger
	version   string
	fetcher   Fetcher
}

// WithPort overrides the TCP port from config (PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithAINodeURL overrides the AI jury service URL from config (AI_NODE_URL env var).
func WithAINodeURL(url string) Option {
	return func(o *resolvedOptions) { o.aiNodeURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithFetcher replaces the built-in IPFS gateway client for archive and
// attachment resolution. Pinning (justification publication) still uses
// the built-in client configured via IPFS_PINNING_SERVICE.
func WithFetcher(f Fetcher) Option {
	return func(o *resolvedOptions) { o.fetcher = f }
}
