package notify

import (
	"fmt"
	"os"
	"path/filepath"
)

// Writer stores notifications in a directory. Each write goes through a
// temporary file and a rename, so readers never see a partial document and a
// retried write replaces the previous one.
type Writer struct {
	dir string
}

// NewWriter constructs a Writer for dir. The directory must exist.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Write stores data under name and returns the final path.
func (w *Writer) Write(name string, data []byte) (string, error) {
	final := filepath.Join(w.dir, filepath.Base(name))
	tmp, err := os.CreateTemp(w.dir, ".notification-*")
	if err != nil {
		return "", fmt.Errorf("create temp notification: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write notification: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close notification: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("chmod notification: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return final, nil
}

// Open returns a reader for a previously written notification.
func (w *Writer) Open(name string) (*os.File, error) {
	return os.Open(filepath.Join(w.dir, filepath.Base(name)))
}
