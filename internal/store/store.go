// Package store provides output targets for materialized partition files.
//
// A Store receives the encoded files produced by the materializer. The
// filesystem store is the default; the S3 store lets callers land partition
// files directly in an object bucket.
package store

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath indicates a path that would escape the store root.
var ErrInvalidPath = errors.New("store: invalid path: escapes store root")

// Store abstracts the destination for materialized files. Paths are
// slash-separated and relative to the store root. Unlike a snapshot store,
// output targets are overwritable: re-running a materialization replaces the
// previous files.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader) error
}

// -----------------------------------------------------------------------------
// Filesystem Store
// -----------------------------------------------------------------------------

// fsStore writes files under a local root directory.
type fsStore struct {
	root string
}

// NewFS creates a filesystem-backed output store rooted at dir. The root is
// created if it does not exist.
func NewFS(dir string) (Store, error) {
	if dir == "" {
		return nil, errors.New("store: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fsStore{root: dir}, nil
}

func (f *fsStore) Put(_ context.Context, path string, r io.Reader) error {
	full, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	file, err := os.Create(full)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (f *fsStore) safePath(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(path))
	if path == "" || cleaned == "." || filepath.IsAbs(cleaned) {
		return "", ErrInvalidPath
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return filepath.Join(f.root, cleaned), nil
}
