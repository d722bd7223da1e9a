package tabular

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Batch stages artifacts in temporary siblings of their targets and moves
// them into place together on Commit. A stage that fails part-way calls
// Abort and leaves the previous artifacts untouched.
type Batch struct {
	staged []staged
}

type staged struct {
	tmp  string
	path string
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) stage(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	b.staged = append(b.staged, staged{tmp: tmp.Name(), path: path})
	return nil
}

// Commit renames every staged file into place in staging order.
func (b *Batch) Commit() error {
	for i, s := range b.staged {
		if err := os.Rename(s.tmp, s.path); err != nil {
			b.staged = b.staged[i:]
			b.Abort()
			return fmt.Errorf("rename into %s: %w", s.path, err)
		}
	}
	b.staged = nil
	return nil
}

// Abort discards every staged file that has not been committed.
func (b *Batch) Abort() {
	for _, s := range b.staged {
		os.Remove(s.tmp)
	}
	b.staged = nil
}

// Remove deletes artifacts left by an earlier run. Missing files are fine.
func Remove(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func single(fn func(b *Batch) error) error {
	b := NewBatch()
	if err := fn(b); err != nil {
		b.Abort()
		return err
	}
	return b.Commit()
}
