// Package file implements the local filesystem side of the dataset: opening
// tables for reading and replacing them with filtered versions.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// Local is a filesystem data source bound to a single dataset file.
type Local struct{ path string }

// NewLocal returns a new Local data source bound to the provided filesystem
// path.
func NewLocal(path string) *Local { return &Local{path: path} }

// Path returns the bound path.
func (l *Local) Path() string { return l.path }

// Open opens the configured path for reading and returns an io.ReadCloser.
//
// Behavior:
//   - If the context is already canceled or its deadline exceeded at the time
//     of the call, Open returns the context error immediately without touching
//     the filesystem.
//   - Any filesystem error is wrapped with the path for context, while still
//     permitting errors.Is/As checks by callers (e.g., errors.Is(err, os.ErrNotExist)).
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	return f, nil
}

// Exists reports whether the path exists and is a regular file. A directory
// at the path is an error, not a missing file.
func (l *Local) Exists() (bool, error) {
	fi, err := os.Stat(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", l.path, err)
	}
	if !fi.Mode().IsRegular() {
		return false, fmt.Errorf("stat %s: not a regular file", l.path)
	}
	return true, nil
}
