package manifest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTarGz packs files (path -> content) into an in-memory tar.gz archive.
func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func TestExtractArchive_TarGz(t *testing.T) {
	data := buildTarGz(t, map[string]string{
		"manifest.json": `{"version":"1.0"}`,
		"q.json":        `{"query":"hello"}`,
	})

	dir := t.TempDir()
	require.NoError(t, extractArchive(data, dir))

	content, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "1.0")
}

func TestExtractArchive_RejectsPathEscape(t *testing.T) {
	data := buildTarGz(t, map[string]string{
		"../../etc/passwd": "evil",
	})
	dir := t.TempDir()
	err := extractArchive(data, dir)
	require.Error(t, err)
}

func TestExtractArchive_UnrecognizedFormat(t *testing.T) {
	dir := t.TempDir()
	err := extractArchive([]byte("not an archive"), dir)
	require.Error(t, err)
}
