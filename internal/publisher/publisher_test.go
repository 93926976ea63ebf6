package publisher

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinner struct {
	cid string
	err error
	got []byte
}

func (f *fakePinner) Pin(_ context.Context, _ string, data []byte) (string, error) {
	f.got = data
	if f.err != nil {
		return "", f.err
	}
	return f.cid, nil
}

func TestPublish_Success(t *testing.T) {
	pinner := &fakePinner{cid: "bafyJ"}
	p := NewPublisher(pinner, nil)

	cid, err := p.Publish(t.Context(), "justification.tar.gz", []File{
		{Name: "justification.txt", Content: []byte("the verdict")},
	})
	require.NoError(t, err)
	assert.Equal(t, "bafyJ", cid)

	names := tarEntryNames(t, pinner.got)
	assert.Contains(t, names, "justification.txt")
}

func TestPublish_UploadFailurePropagates(t *testing.T) {
	pinner := &fakePinner{err: errors.New("pin service down")}
	p := NewPublisher(pinner, nil)

	_, err := p.Publish(t.Context(), "x.tar.gz", []File{{Name: "a", Content: []byte("b")}})
	require.Error(t, err)
}

func TestPublishErrorJustification_BestEffort(t *testing.T) {
	pinner := &fakePinner{err: errors.New("pin service down")}
	p := NewPublisher(pinner, nil)

	cid, ok := p.PublishErrorJustification(t.Context(), "ManifestInvalid", "bad manifest")
	assert.False(t, ok)
	assert.Empty(t, cid)
}

func TestPublishErrorJustification_Success(t *testing.T) {
	pinner := &fakePinner{cid: "bafyErr"}
	p := NewPublisher(pinner, nil)

	cid, ok := p.PublishErrorJustification(t.Context(), "ManifestInvalid", "bad manifest")
	assert.True(t, ok)
	assert.Equal(t, "bafyErr", cid)
}

func TestPublishErrorJustification_ControlCharactersStayValidJSON(t *testing.T) {
	pinner := &fakePinner{cid: "bafyErr"}
	p := NewPublisher(pinner, nil)

	message := "fetch \"bafyX\" failed:\n\tdial tcp 127.0.0.1:1\r\x00"
	_, ok := p.PublishErrorJustification(t.Context(), "CIDNotFound", message)
	require.True(t, ok)

	var decoded struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(tarEntryContent(t, pinner.got, "error.json"), &decoded))
	assert.Equal(t, "CIDNotFound", decoded.Kind)
	assert.Equal(t, message, decoded.Message)
}

func tarEntryNames(t *testing.T, data []byte) []string {
	t.Helper()
	gr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gr)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}

func tarEntryContent(t *testing.T, data []byte, name string) []byte {
	t.Helper()
	gr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Name == name {
			content, err := io.ReadAll(tr)
			require.NoError(t, err)
			return content
		}
	}
	t.Fatalf("archive has no entry %q", name)
	return nil
}
