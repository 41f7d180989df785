package filter

import (
	"fmt"

	"bdbfilter/internal/datasource/file"
	"bdbfilter/internal/parser/csv"
)

// MemorySink collects retained rows.
type MemorySink struct {
	Header []string
	Rows   [][]string
}

func (m *MemorySink) WriteHeader(h []string) error { m.Header = h; return nil }

func (m *MemorySink) WriteBatch(rows [][]string) error {
	m.Rows = append(m.Rows, rows...)
	return nil
}

// TableWriter is a RowSink that replaces a file. Nothing is visible at the
// target path until Commit; Abort discards pending output.
type TableWriter interface {
	RowSink
	Commit() error
	Abort()
}

// WriterOptions controls how a table is written back.
type WriterOptions struct {
	CSV csv.Options
	// BOM restores a UTF-8 byte order mark found on the source.
	BOM bool
	// Atomic streams into a temporary sibling renamed over the target on
	// Commit. Otherwise rows are buffered and the target is truncated and
	// rewritten on Commit.
	Atomic bool
}

// NewTableWriter returns the writer selected by opt.Atomic.
func NewTableWriter(path string, opt WriterOptions) (TableWriter, error) {
	if opt.Atomic {
		return newAtomicWriter(path, opt)
	}
	return &bufferedWriter{path: path, opt: opt}, nil
}

// atomicWriter keeps memory at O(batch): batches go straight to the
// temporary file.
type atomicWriter struct {
	rep *file.Replacement
	w   *csv.Writer
}

func newAtomicWriter(path string, opt WriterOptions) (*atomicWriter, error) {
	rep, err := file.NewReplacement(path)
	if err != nil {
		return nil, err
	}
	return &atomicWriter{rep: rep, w: csv.NewWriter(rep, opt.CSV, opt.BOM)}, nil
}

func (a *atomicWriter) WriteHeader(h []string) error { return a.w.Write(h) }

func (a *atomicWriter) WriteBatch(rows [][]string) error { return a.w.WriteRows(rows) }

func (a *atomicWriter) Commit() error {
	if err := a.w.Close(); err != nil {
		a.rep.Abort()
		return err
	}
	return a.rep.Commit()
}

func (a *atomicWriter) Abort() { a.rep.Abort() }

// bufferedWriter holds every retained batch until Commit, then truncates the
// target. The source must be closed before Commit.
type bufferedWriter struct {
	path    string
	opt     WriterOptions
	header  []string
	batches [][][]string
}

func (b *bufferedWriter) WriteHeader(h []string) error { b.header = h; return nil }

func (b *bufferedWriter) WriteBatch(rows [][]string) error {
	b.batches = append(b.batches, rows)
	return nil
}

func (b *bufferedWriter) Commit() error {
	f, err := file.Overwrite(b.path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f, b.opt.CSV, b.opt.BOM)
	err = w.Write(b.header)
	for i := 0; err == nil && i < len(b.batches); i++ {
		err = w.WriteRows(b.batches[i])
	}
	if err == nil {
		err = w.Close()
	}
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	b.batches = nil
	if err != nil {
		return fmt.Errorf("rewrite %s: %w", b.path, err)
	}
	return nil
}

func (b *bufferedWriter) Abort() { b.batches = nil }

// WriteTable replaces path with header and rows in one step.
func WriteTable(path string, header []string, rows [][]string, opt WriterOptions) error {
	w, err := NewTableWriter(path, opt)
	if err != nil {
		return err
	}
	if err := w.WriteHeader(header); err != nil {
		w.Abort()
		return err
	}
	if len(rows) > 0 {
		if err := w.WriteBatch(rows); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Commit()
}
