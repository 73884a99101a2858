// Package storage reads and writes model artifacts (classifier weights,
// label files, manifests) on a local directory or an S3 compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"
)

// FileStore is a minimal interface for artifact storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file. The caller must close it. A missing file
	// yields an error wrapping fs.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing, truncating it and creating
	// parents. The data is committed on Close.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file. Missing files are not an error.
	Delete(ctx context.Context, path string) error

	// Stat describes the named file. A missing file yields an error
	// wrapping fs.ErrNotExist.
	Stat(ctx context.Context, path string) (Info, error)

	// List returns every file under prefix, sorted by path.
	List(ctx context.Context, prefix string) ([]Info, error)
}

// Info describes a stored file.
type Info struct {
	Path    string    `json:"path" yaml:"path"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
	// Version changes whenever the content changes: the ETag on S3, the
	// size and mtime on local disk.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// ErrInvalidPath is returned for paths that escape the store root.
var ErrInvalidPath = errors.New("storage: invalid path")

// Clean normalizes p and rejects absolute or parent-relative paths.
func Clean(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return c, nil
}

// Exists reports whether the named file exists.
func Exists(ctx context.Context, s FileStore, p string) (bool, error) {
	_, err := s.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ReadFile reads the whole named file.
func ReadFile(ctx context.Context, s FileStore, p string) ([]byte, error) {
	r, err := s.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteFile replaces the named file with data.
func WriteFile(ctx context.Context, s FileStore, p string, data []byte) error {
	w, err := s.Write(ctx, p)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
