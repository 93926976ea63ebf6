package manifest

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/verdikta/arbiter-adapter/internal/werrors"
)

const maxExtractedFileBytes = 32 * 1024 * 1024

// extractArchive sniffs the archive format from its magic bytes and
// extracts its contents into destDir. Both gzip-compressed tar and zip
// are accepted; format is detected from content, not from any filename
// convention, since the gateway response carries no extension.
func extractArchive(data []byte, destDir string) error {
	switch {
	case isGzip(data):
		return extractTarGz(data, destDir)
	case isZip(data):
		return extractZip(data, destDir)
	case isTar(data):
		return extractTar(bytes.NewReader(data), destDir)
	default:
		return werrors.New(werrors.KindArchiveCorrupt, "archive format not recognized (expected tar, tar.gz, or zip)", nil)
	}
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func isZip(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K' && (data[2] == 0x03 || data[2] == 0x05 || data[2] == 0x06)
}

func isTar(data []byte) bool {
	if len(data) < 512 {
		return false
	}
	// POSIX tar magic at offset 257.
	return bytes.Equal(data[257:262], []byte("ustar"))
}

func extractTarGz(data []byte, destDir string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return werrors.New(werrors.KindArchiveCorrupt, "gzip header invalid", err)
	}
	defer func() { _ = gz.Close() }()
	return extractTar(gz, destDir)
}

func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return werrors.New(werrors.KindArchiveCorrupt, "tar stream corrupt", err)
		}
		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeDir {
			continue
		}
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeDir {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return werrors.New(werrors.KindInternal, "create directory", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return werrors.New(werrors.KindInternal, "create parent directory", err)
		}
		if err := writeExtractedFile(target, io.LimitReader(tr, maxExtractedFileBytes+1), hdr.Size); err != nil {
			return err
		}
	}
}

func extractZip(data []byte, destDir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return werrors.New(werrors.KindArchiveCorrupt, "zip central directory invalid", err)
	}
	for _, f := range zr.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return werrors.New(werrors.KindInternal, "create directory", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return werrors.New(werrors.KindInternal, "create parent directory", err)
		}
		rc, err := f.Open()
		if err != nil {
			return werrors.New(werrors.KindArchiveCorrupt, fmt.Sprintf("open zip entry %q", f.Name), err)
		}
		err = writeExtractedFile(target, io.LimitReader(rc, maxExtractedFileBytes+1), int64(f.UncompressedSize64))
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeExtractedFile(target string, r io.Reader, declaredSize int64) error {
	if declaredSize > maxExtractedFileBytes {
		return werrors.New(werrors.KindArchiveCorrupt, fmt.Sprintf("archive entry %q exceeds maximum size", filepath.Base(target)), nil)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return werrors.New(werrors.KindInternal, "create extracted file", err)
	}
	defer func() { _ = out.Close() }()

	n, err := io.Copy(out, r)
	if err != nil {
		return werrors.New(werrors.KindArchiveCorrupt, "write extracted file", err)
	}
	if n > maxExtractedFileBytes {
		return werrors.New(werrors.KindArchiveCorrupt, fmt.Sprintf("archive entry %q exceeds maximum size", filepath.Base(target)), nil)
	}
	return nil
}

// safeJoin joins destDir and name, rejecting any entry whose resolved
// path would escape destDir (a zip-slip / tar-slip guard).
func safeJoin(destDir, name string) (string, error) {
	cleaned := filepath.Clean(strings.ReplaceAll(name, "\\", "/"))
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", werrors.New(werrors.KindArchiveCorrupt, fmt.Sprintf("archive entry %q escapes extraction directory", name), nil)
	}
	joined := filepath.Join(destDir, cleaned)
	if !strings.HasPrefix(joined, filepath.Clean(destDir)+string(os.PathSeparator)) && joined != filepath.Clean(destDir) {
		return "", werrors.New(werrors.KindArchiveCorrupt, fmt.Sprintf("archive entry %q escapes extraction directory", name), nil)
	}
	return joined, nil
}
