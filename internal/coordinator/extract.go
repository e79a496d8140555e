package coordinator

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExtractionError indicates an artifact could not be unpacked to its
// destination. Never silently ignored.
type ExtractionError struct {
	Archive string
	Dest    string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s to %s: %v", e.Archive, e.Dest, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// extractZip unpacks a zip archive into dest, refusing entries that would
// escape the destination directory.
func extractZip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return &ExtractionError{Archive: archive, Dest: dest, Err: err}
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return &ExtractionError{Archive: archive, Dest: dest, Err: err}
	}

	for _, f := range r.File {
		if err := extractEntry(f, dest); err != nil {
			return &ExtractionError{Archive: archive, Dest: dest, Err: err}
		}
	}
	return nil
}

func extractEntry(f *zip.File, dest string) error {
	target := filepath.Join(dest, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
		return fmt.Errorf("entry %q escapes destination", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
