// Package workdir manages the per-request working directory: extracted
// archives and IPFS-fetched attachments live under one directory owned
// exclusively by the request and released on every exit path. The
// justification archive is built in memory by internal/publisher and is
// not written here.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/verdikta/arbiter-adapter/internal/werrors"
)

// Dir is a per-request working directory. It is never shared across
// requests: each call to New creates a fresh, uniquely named
// subdirectory beneath root.
type Dir struct {
	Path string
}

// New creates a fresh working directory under root, named with a random
// UUID so concurrent requests never collide.
func New(root string) (*Dir, error) {
	path := filepath.Join(root, "verdikta-req-"+uuid.NewString())
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, werrors.New(werrors.KindInternal, fmt.Sprintf("create working directory %q", path), err)
	}
	return &Dir{Path: path}, nil
}

// Close removes the working directory and everything beneath it. Callers
// must invoke Close on every exit path (success, failure, or
// cancellation) — typically via defer immediately after New succeeds.
func (d *Dir) Close() error {
	if d == nil || d.Path == "" {
		return nil
	}
	if err := os.RemoveAll(d.Path); err != nil {
		return werrors.New(werrors.KindInternal, fmt.Sprintf("remove working directory %q", d.Path), err)
	}
	return nil
}
