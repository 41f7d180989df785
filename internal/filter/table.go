// Package filter removes every row whose (gameId, playId) key belongs to a
// removed-key set derived from the plays table.
//
// One routine, FilterTable, drives all three passes: the plays table (with a
// PlayFilter that builds the set), the scouting table (one in-memory batch)
// and the tracking tables (bounded chunks). Sources, filters and sinks are
// small interfaces so each pass only differs in what it plugs in.
package filter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"bdbfilter/internal/parser/csv"
)

// BatchSource yields a table's header and then its records in order.
type BatchSource interface {
	Header() []string
	// NextBatch returns the next non-empty batch, or io.EOF when exhausted.
	NextBatch() ([][]string, error)
}

// RowFilter decides per record whether it stays.
type RowFilter interface {
	Keep(rec []string) bool
}

// RowSink receives the header once and then retained batches in order.
type RowSink interface {
	WriteHeader(header []string) error
	WriteBatch(rows [][]string) error
}

// TableStats counts one pass. Original == Retained + Removed always holds.
type TableStats struct {
	Original int64
	Retained int64
	Removed  int64
	Chunks   int64
}

// FilterTable copies src to sink, keeping the records f accepts. Record order
// is preserved within and across batches. progress, when non-nil, is called
// after every batch with the running totals. ctx is checked between batches.
func FilterTable(ctx context.Context, src BatchSource, f RowFilter, sink RowSink, progress func(TableStats)) (TableStats, error) {
	var st TableStats
	if err := sink.WriteHeader(src.Header()); err != nil {
		return st, fmt.Errorf("write header: %w", err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		batch, err := src.NextBatch()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return st, fmt.Errorf("chunk %d: %w", st.Chunks+1, err)
		}

		// batches are never reused by sources, so compact in place
		kept := batch[:0]
		for _, rec := range batch {
			if f.Keep(rec) {
				kept = append(kept, rec)
			}
		}
		st.Chunks++
		st.Original += int64(len(batch))
		st.Retained += int64(len(kept))
		st.Removed += int64(len(batch) - len(kept))

		if len(kept) > 0 {
			if err := sink.WriteBatch(kept); err != nil {
				return st, fmt.Errorf("chunk %d: write: %w", st.Chunks, err)
			}
		}
		if progress != nil {
			progress(st)
		}
	}
}

// SliceSource serves rows already in memory as a single batch. The caller's
// slice is not modified.
type SliceSource struct {
	header []string
	rows   [][]string
	done   bool
}

// NewSliceSource returns a source over rows.
func NewSliceSource(header []string, rows [][]string) *SliceSource {
	return &SliceSource{header: header, rows: rows}
}

func (s *SliceSource) Header() []string { return s.header }

func (s *SliceSource) NextBatch() ([][]string, error) {
	if s.done || len(s.rows) == 0 {
		return nil, io.EOF
	}
	s.done = true
	return slices.Clone(s.rows), nil
}

// ChunkSource streams a CSV reader in batches of at most size records.
type ChunkSource struct {
	r    *csv.Reader
	size int
}

// NewChunkSource returns a source reading r in chunks of size records.
func NewChunkSource(r *csv.Reader, size int) *ChunkSource {
	return &ChunkSource{r: r, size: size}
}

func (c *ChunkSource) Header() []string { return c.r.Header() }

func (c *ChunkSource) NextBatch() ([][]string, error) { return c.r.ReadBatch(c.size) }
