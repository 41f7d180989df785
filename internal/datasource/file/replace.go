package file

import (
	"fmt"
	"os"
	"path/filepath"
)

// Replacement writes the new contents of a file to a temporary sibling and
// moves it over the original on Commit. Until Commit succeeds the original
// file is untouched, so an error or crash mid-write leaves the old version in
// place.
type Replacement struct {
	path string
	tmp  *os.File
	done bool
}

// NewReplacement creates the temporary sibling of path. The original file's
// permission bits are carried over when it exists.
func NewReplacement(path string) (*Replacement, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp for %s: %w", path, err)
	}
	if fi, err := os.Stat(path); err == nil {
		_ = tmp.Chmod(fi.Mode().Perm())
	}
	return &Replacement{path: path, tmp: tmp}, nil
}

// Write implements io.Writer.
func (r *Replacement) Write(p []byte) (int, error) {
	if r.done {
		return 0, fmt.Errorf("write %s: replacement already finished", r.path)
	}
	return r.tmp.Write(p)
}

// TempPath returns the path of the temporary file.
func (r *Replacement) TempPath() string { return r.tmp.Name() }

// Commit syncs the temporary file and renames it over the target.
func (r *Replacement) Commit() error {
	if r.done {
		return fmt.Errorf("commit %s: replacement already finished", r.path)
	}
	r.done = true
	if err := r.tmp.Sync(); err != nil {
		r.discard()
		return fmt.Errorf("sync %s: %w", r.tmp.Name(), err)
	}
	if err := r.tmp.Close(); err != nil {
		_ = os.Remove(r.tmp.Name())
		return fmt.Errorf("close %s: %w", r.tmp.Name(), err)
	}
	if err := os.Rename(r.tmp.Name(), r.path); err != nil {
		_ = os.Remove(r.tmp.Name())
		return fmt.Errorf("rename onto %s: %w", r.path, err)
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit.
func (r *Replacement) Abort() {
	if r.done {
		return
	}
	r.done = true
	r.discard()
}

func (r *Replacement) discard() {
	_ = r.tmp.Close()
	_ = os.Remove(r.tmp.Name())
}

// Overwrite truncates path and opens it for writing. Unlike Replacement the
// previous contents are gone as soon as this returns.
func Overwrite(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("overwrite %s: %w", path, err)
	}
	return f, nil
}
