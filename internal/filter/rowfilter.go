package filter

import (
	"context"
	"fmt"
	"slices"

	"bdbfilter/internal/keys"
)

// PlayFilter keeps plays whose retain column passes Retain and collects the
// keys of every other row into Removed.
type PlayFilter struct {
	col    int
	retain Retain
	cols   keys.Columns

	// Removed is the removed-key set.
	Removed *keys.Set
	// Unkeyed counts removed rows whose key is not a pair of integers. Such
	// rows cannot match any dependent row and add nothing to Removed.
	Unkeyed int64
}

// NewPlayFilter locates retainCol and the key columns in header.
func NewPlayFilter(header []string, retainCol string, retain Retain, gameCol, playCol string) (*PlayFilter, error) {
	col := slices.Index(header, retainCol)
	if col < 0 {
		return nil, fmt.Errorf("%w: retain column %q not in header", keys.ErrMissingColumns, retainCol)
	}
	cols, err := keys.Locate(header, gameCol, playCol)
	if err != nil {
		return nil, err
	}
	return &PlayFilter{col: col, retain: retain, cols: cols, Removed: keys.NewSet(0)}, nil
}

func (p *PlayFilter) Keep(rec []string) bool {
	if p.retain.Keep(rec[p.col]) {
		return true
	}
	k, err := p.cols.Key(rec)
	if err != nil {
		p.Unkeyed++
		return false
	}
	p.Removed.Add(k)
	return false
}

// KeyFilter drops dependent rows whose key is in Excluded.
type KeyFilter struct {
	Cols     keys.Columns
	Excluded *keys.Set

	// Unkeyed counts rows kept because their key did not parse.
	Unkeyed int64
}

// NewKeyFilter locates the key columns in header.
func NewKeyFilter(header []string, gameCol, playCol string, excluded *keys.Set) (*KeyFilter, error) {
	cols, err := keys.Locate(header, gameCol, playCol)
	if err != nil {
		return nil, err
	}
	return &KeyFilter{Cols: cols, Excluded: excluded}, nil
}

func (f *KeyFilter) Keep(rec []string) bool {
	k, err := f.Cols.Key(rec)
	if err != nil {
		f.Unkeyed++
		return true
	}
	return !f.Excluded.Contains(k)
}

// Derived is the outcome of DeriveKeys.
type Derived struct {
	Retained [][]string
	Removed  *keys.Set
	Stats    TableStats
	Unkeyed  int64
}

// DeriveKeys splits the plays rows into retained rows (original order, all
// columns) and the removed-key set.
func DeriveKeys(ctx context.Context, header []string, rows [][]string, retainCol string, retain Retain, gameCol, playCol string) (Derived, error) {
	pf, err := NewPlayFilter(header, retainCol, retain, gameCol, playCol)
	if err != nil {
		return Derived{}, err
	}
	var sink MemorySink
	st, err := FilterTable(ctx, NewSliceSource(header, rows), pf, &sink, nil)
	if err != nil {
		return Derived{}, err
	}
	return Derived{Retained: sink.Rows, Removed: pf.Removed, Stats: st, Unkeyed: pf.Unkeyed}, nil
}
