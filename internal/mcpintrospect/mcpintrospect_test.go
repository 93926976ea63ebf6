package mcpintrospect

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdikta/arbiter-adapter/internal/commitreveal"
	"github.com/verdikta/arbiter-adapter/internal/manifest"
	"github.com/verdikta/arbiter-adapter/internal/werrors"
)

type fakeFetcher struct {
	data map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, cid string) ([]byte, error) {
	b, ok := f.data[cid]
	if !ok {
		return nil, werrors.New(werrors.KindCIDNotFound, "cid not found", nil)
	}
	return b, nil
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

func textOf(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

func TestInspectCommit_Miss(t *testing.T) {
	cache := commitreveal.NewCache(time.Minute)
	defer cache.Close()
	s := New(cache, manifest.NewResolver(&fakeFetcher{}), t.TempDir(), "test", nil)

	result, err := s.handleInspectCommit(t.Context(), toolRequest("inspect_commit", map[string]any{
		"fingerprint_hex": hex.EncodeToString(make([]byte, 32)),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, textOf(t, result), `"found":false`)
}

func TestInspectCommit_Hit(t *testing.T) {
	cache := commitreveal.NewCache(time.Minute)
	defer cache.Close()
	s := New(cache, manifest.NewResolver(&fakeFetcher{}), t.TempDir(), "test", nil)

	fp := commitreveal.Fingerprint("req1", "bafyA", nil, 0)
	cache.Put(fp, commitreveal.Record{
		JustificationCID: "bafyJ",
		CommitHash:       commitreveal.CommitHash([]byte("result-bytes")),
		TimestampNs:      123,
	})

	result, err := s.handleInspectCommit(t.Context(), toolRequest("inspect_commit", map[string]any{
		"fingerprint_hex": hex.EncodeToString(fp[:]),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	text := textOf(t, result)
	assert.Contains(t, text, `"found": true`)
	assert.Contains(t, text, "bafyJ")
}

func TestInspectCommit_BadHex(t *testing.T) {
	cache := commitreveal.NewCache(time.Minute)
	defer cache.Close()
	s := New(cache, manifest.NewResolver(&fakeFetcher{}), t.TempDir(), "test", nil)

	result, err := s.handleInspectCommit(t.Context(), toolRequest("inspect_commit", map[string]any{
		"fingerprint_hex": "not-hex",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestResolveManifest_Success(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"manifest.json": `{"version":"1.0","primary":{"filename":"q.json"}}`,
		"q.json":        `{"query":"Q"}`,
	})
	fetcher := &fakeFetcher{data: map[string][]byte{"bafyA": archive}}
	cache := commitreveal.NewCache(time.Minute)
	defer cache.Close()
	s := New(cache, manifest.NewResolver(fetcher), t.TempDir(), "test", nil)

	result, err := s.handleResolveManifest(t.Context(), toolRequest("resolve_manifest", map[string]any{
		"cid_list": "bafyA",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, textOf(t, result), `"prompt": "Q"`)
}

func TestResolveManifest_MissingCIDList(t *testing.T) {
	cache := commitreveal.NewCache(time.Minute)
	defer cache.Close()
	s := New(cache, manifest.NewResolver(&fakeFetcher{}), t.TempDir(), "test", nil)

	result, err := s.handleResolveManifest(t.Context(), toolRequest("resolve_manifest", map[string]any{
		"cid_list": "",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestResolveManifest_ResolverError(t *testing.T) {
	cache := commitreveal.NewCache(time.Minute)
	defer cache.Close()
	s := New(cache, manifest.NewResolver(&fakeFetcher{}), t.TempDir(), "test", nil)

	result, err := s.handleResolveManifest(t.Context(), toolRequest("resolve_manifest", map[string]any{
		"cid_list": "unknown-cid",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestNew_RegistersTools(t *testing.T) {
	cache := commitreveal.NewCache(time.Minute)
	defer cache.Close()
	s := New(cache, manifest.NewResolver(&fakeFetcher{}), t.TempDir(), "test", nil)
	assert.NotNil(t, s.MCPServer())
}
