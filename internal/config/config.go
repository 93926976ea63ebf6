// Package config loads and validates adapter configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all adapter configuration.
type Config struct {
	// Server settings.
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// AI jury service.
	AINodeURL     string
	AICallTimeout time.Duration

	// IPFS.
	IPFSGateways       []string // fallback order
	IPFSFetchTimeout   time.Duration
	IPFSPinningService string
	IPFSPinningKey     string
	IPFSPinTimeout     time.Duration

	// Commit-reveal cache.
	RevealTTL time.Duration

	// Request lifecycle.
	RequestDeadline time.Duration
	WorkDirRoot     string
	MaxInflight     int

	// Operational.
	LogLevel     string
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// MCP introspection surface.
	MCPEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if any environment variable contains an unparseable value,
// or if Validate finds the parsed values inconsistent.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		Host:               envStr("HOST", "0.0.0.0"),
		AINodeURL:          envStr("AI_NODE_URL", ""),
		IPFSGateways:       envStrSlice("IPFS_GATEWAYS", []string{"https://ipfs.io"}),
		IPFSPinningService: envStr("IPFS_PINNING_SERVICE", ""),
		IPFSPinningKey:     envStr("IPFS_PINNING_KEY", ""),
		WorkDirRoot:        envStr("WORK_DIR_ROOT", os.TempDir()),
		LogLevel:           envStr("LOG_LEVEL", "info"),
		OTELEndpoint:       envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:        envStr("OTEL_SERVICE_NAME", "verdikta-arbiter-adapter"),
	}

	cfg.Port, errs = collectInt(errs, "PORT", 8080)
	cfg.MaxInflight, errs = collectInt(errs, "MAX_INFLIGHT_REQUESTS", 64)

	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_EXPORTER_OTLP_INSECURE", false)
	cfg.MCPEnabled, errs = collectBool(errs, "MCP_INTROSPECTION_ENABLED", true)

	cfg.ReadTimeout, errs = collectDuration(errs, "READ_TIMEOUT", 30*time.Second)
	cfg.WriteTimeout, errs = collectDuration(errs, "WRITE_TIMEOUT", 30*time.Second)
	cfg.AICallTimeout, errs = collectDuration(errs, "AI_CALL_TIMEOUT", 90*time.Second)
	cfg.IPFSFetchTimeout, errs = collectDuration(errs, "IPFS_FETCH_TIMEOUT", 30*time.Second)
	cfg.IPFSPinTimeout, errs = collectDuration(errs, "IPFS_PIN_TIMEOUT", 60*time.Second)

	var revealTTLSeconds int
	revealTTLSeconds, errs = collectInt(errs, "REVEAL_TTL_SECONDS", 600)
	cfg.RevealTTL = time.Duration(revealTTLSeconds) * time.Second

	var deadlineSeconds int
	deadlineSeconds, errs = collectInt(errs, "REQUEST_DEADLINE_SECONDS", 120)
	cfg.RequestDeadline = time.Duration(deadlineSeconds) * time.Second

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// collectInt parses an int env var, appending any error to the accumulator.
func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectBool parses a bool env var, appending any error to the accumulator.
func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectDuration parses a duration env var, appending any error to the accumulator.
func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// Validate checks that required configuration is present and internally consistent.
func (c Config) Validate() error {
	var errs []error

	if c.AINodeURL == "" {
		errs = append(errs, errors.New("config: AI_NODE_URL is required"))
	}
	if len(c.IPFSGateways) == 0 {
		errs = append(errs, errors.New("config: IPFS_GATEWAYS must list at least one gateway"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, errors.New("config: PORT must be between 1 and 65535"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("config: READ_TIMEOUT must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("config: WRITE_TIMEOUT must be positive"))
	}
	if c.RevealTTL <= 0 {
		errs = append(errs, errors.New("config: REVEAL_TTL_SECONDS must be positive"))
	}
	if c.RequestDeadline <= 0 {
		errs = append(errs, errors.New("config: REQUEST_DEADLINE_SECONDS must be positive"))
	}
	// A reveal cache that expires before (or exactly when) the aggregator's
	// response window closes can never serve the reveal it committed to.
	if c.RevealTTL <= c.RequestDeadline {
		errs = append(errs, fmt.Errorf(
			"config: REVEAL_TTL_SECONDS (%s) must exceed REQUEST_DEADLINE_SECONDS (%s)",
			c.RevealTTL, c.RequestDeadline))
	}
	if c.MaxInflight <= 0 {
		errs = append(errs, errors.New("config: MAX_INFLIGHT_REQUESTS must be positive"))
	}

	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envStrSlice reads a comma-separated env var into a string slice.
// Returns fallback if the env var is empty or unset.
func envStrSlice(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
