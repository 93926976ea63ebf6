// Package publisher builds the justification archive for one evaluation
// and uploads it to the configured pinning service.
package publisher

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/verdikta/arbiter-adapter/internal/werrors"
)

// Pinner uploads archive bytes and returns the resulting CID.
// internal/ipfs.Client satisfies this.
type Pinner interface {
	Pin(ctx context.Context, name string, data []byte) (string, error)
}

// Publisher builds and uploads justification archives.
type Publisher struct {
	pinner Pinner
	logger *slog.Logger
}

// NewPublisher constructs a Publisher backed by pinner.
func NewPublisher(pinner Pinner, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{pinner: pinner, logger: logger}
}

// File is one entry to include in the published archive.
type File struct {
	Name    string
	Content []byte
}

// Publish packages files into a tar.gz archive and uploads it, returning
// the resulting CID. Upload errors retry once (via internal/ipfs.Client's
// own retry policy); if the retry is exhausted the whole request fails
// with PublishFailed.
func (p *Publisher) Publish(ctx context.Context, archiveName string, files []File) (string, error) {
	data, err := buildTarGz(files)
	if err != nil {
		return "", err
	}
	cid, err := p.pinner.Pin(ctx, archiveName, data)
	if err != nil {
		return "", werrors.New(werrors.KindPublishFailed, "upload justification archive", err)
	}
	return cid, nil
}

// PublishErrorJustification uploads a minimal archive describing a failed
// evaluation so the on-chain consumer can still audit the failure. Per the
// error propagation policy, this upload is best-effort: a failure here is
// logged and swallowed rather than surfaced, since the request has already
// failed for its own reason.
func (p *Publisher) PublishErrorJustification(ctx context.Context, kind, message string) (cid string, ok bool) {
	payload, err := json.Marshal(struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}{Kind: kind, Message: message})
	if err != nil {
		p.logger.Warn("failed to marshal error justification", "error", err)
		return "", false
	}

	files := []File{{Name: "error.json", Content: payload}}
	data, err := buildTarGz(files)
	if err != nil {
		p.logger.Warn("failed to build error justification archive", "error", err)
		return "", false
	}
	cid, err = p.pinner.Pin(ctx, "error-justification.tar.gz", data)
	if err != nil {
		p.logger.Warn("failed to publish error justification (best-effort, dropped)", "error", err)
		return "", false
	}
	return cid, true
}

func buildTarGz(files []File) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, f := range files {
		hdr := &tar.Header{Name: f.Name, Mode: 0o644, Size: int64(len(f.Content))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, werrors.New(werrors.KindInternal, "write archive header", err)
		}
		if _, err := tw.Write(f.Content); err != nil {
			return nil, werrors.New(werrors.KindInternal, "write archive content", err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, werrors.New(werrors.KindInternal, "close tar writer", err)
	}
	if err := gw.Close(); err != nil {
		return nil, werrors.New(werrors.KindInternal, "close gzip writer", err)
	}
	return buf.Bytes(), nil
}
