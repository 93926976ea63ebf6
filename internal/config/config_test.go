package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"HOST", "PORT", "AI_NODE_URL", "IPFS_GATEWAYS", "IPFS_PINNING_SERVICE",
		"IPFS_PINNING_KEY", "WORK_DIR_ROOT", "LOG_LEVEL", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SERVICE_NAME", "MCP_INTROSPECTION_ENABLED",
		"READ_TIMEOUT", "WRITE_TIMEOUT", "AI_CALL_TIMEOUT", "IPFS_FETCH_TIMEOUT",
		"IPFS_PIN_TIMEOUT", "REVEAL_TTL_SECONDS", "REQUEST_DEADLINE_SECONDS",
		"MAX_INFLIGHT_REQUESTS",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_NODE_URL", "http://localhost:9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, []string{"https://ipfs.io"}, cfg.IPFSGateways)
	assert.Equal(t, 600*time.Second, cfg.RevealTTL)
	assert.Equal(t, 120*time.Second, cfg.RequestDeadline)
	assert.Equal(t, 64, cfg.MaxInflight)
	assert.True(t, cfg.MCPEnabled)
}

func TestLoad_MissingAINodeURL(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI_NODE_URL")
}

func TestLoad_InvalidInt(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_NODE_URL", "http://localhost:9000")
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}

func TestLoad_GatewayList(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_NODE_URL", "http://localhost:9000")
	t.Setenv("IPFS_GATEWAYS", "https://a.example, https://b.example ,https://c.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, cfg.IPFSGateways)
}

func TestValidate_RevealTTLMustExceedDeadline(t *testing.T) {
	cfg := Config{
		AINodeURL:       "http://localhost:9000",
		IPFSGateways:    []string{"https://ipfs.io"},
		Port:            8080,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		RevealTTL:       60 * time.Second,
		RequestDeadline: 120 * time.Second,
		MaxInflight:     1,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must exceed")
}

func TestValidate_PortRange(t *testing.T) {
	cfg := Config{
		AINodeURL:       "http://localhost:9000",
		IPFSGateways:    []string{"https://ipfs.io"},
		Port:            70000,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		RevealTTL:       120 * time.Second,
		RequestDeadline: 60 * time.Second,
		MaxInflight:     1,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}
