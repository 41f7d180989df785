// Package keys models the (gameId, playId) composite key shared by every Big
// Data Bowl table, and the in-memory set used to filter dependent tables.
//
// Keys are compared numerically: "2018090600" and "2018090600.0" address the
// same game, which matches how the upstream dataframes read these columns.
package keys

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// ErrMissingColumns is returned when a header lacks one of the key columns.
var ErrMissingColumns = errors.New("missing key columns")

// Key addresses one play.
type Key struct {
	GameID int64
	PlayID int64
}

func (k Key) String() string { return fmt.Sprintf("(%d,%d)", k.GameID, k.PlayID) }

// Parse builds a Key from the raw CSV fields of the two key columns.
func Parse(game, play string) (Key, error) {
	g, err := parseID(game)
	if err != nil {
		return Key{}, fmt.Errorf("game id: %w", err)
	}
	p, err := parseID(play)
	if err != nil {
		return Key{}, fmt.Errorf("play id: %w", err)
	}
	return Key{GameID: g, PlayID: p}, nil
}

// parseID accepts plain integers and integral floats ("12.0").
func parseID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("out of range: %q", s)
	}
	return int64(f), nil
}

// Columns holds the positions of the key columns inside a header.
type Columns struct {
	Game int
	Play int
}

// Locate finds gameCol and playCol in header. Column names are matched
// exactly; a missing column yields an error wrapping ErrMissingColumns that
// names every absent column.
func Locate(header []string, gameCol, playCol string) (Columns, error) {
	c := Columns{Game: -1, Play: -1}
	for i, h := range header {
		switch h {
		case gameCol:
			if c.Game < 0 {
				c.Game = i
			}
		case playCol:
			if c.Play < 0 {
				c.Play = i
			}
		}
	}
	var missing []string
	if c.Game < 0 {
		missing = append(missing, gameCol)
	}
	if c.Play < 0 {
		missing = append(missing, playCol)
	}
	if len(missing) > 0 {
		return c, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return c, nil
}

// Key extracts the composite key from a record.
func (c Columns) Key(rec []string) (Key, error) {
	if c.Game >= len(rec) || c.Play >= len(rec) {
		return Key{}, fmt.Errorf("record has %d fields; key columns at %d,%d", len(rec), c.Game, c.Play)
	}
	return Parse(rec[c.Game], rec[c.Play])
}

// Set is a hash set of keys. The zero value is not usable; use NewSet.
// A nil *Set behaves as an empty set for lookups.
type Set struct {
	m map[Key]struct{}
}

// NewSet returns an empty set sized for n keys.
func NewSet(n int) *Set {
	return &Set{m: make(map[Key]struct{}, n)}
}

// Add inserts k and reports whether it was new.
func (s *Set) Add(k Key) bool {
	if _, ok := s.m[k]; ok {
		return false
	}
	s.m[k] = struct{}{}
	return true
}

// Contains reports whether k is in the set.
func (s *Set) Contains(k Key) bool {
	if s == nil {
		return false
	}
	_, ok := s.m[k]
	return ok
}

// Len returns the number of distinct keys.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.m)
}

// Sorted returns the keys ordered by (GameID, PlayID).
func (s *Set) Sorted() []Key {
	if s == nil {
		return nil
	}
	out := make([]Key, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GameID != out[j].GameID {
			return out[i].GameID < out[j].GameID
		}
		return out[i].PlayID < out[j].PlayID
	})
	return out
}

// Digest fingerprints the set contents independent of insertion order.
// Two runs that removed the same plays report the same digest.
func (s *Set) Digest() uint64 {
	h := xxh3.New()
	var buf [16]byte
	for _, k := range s.Sorted() {
		binary.BigEndian.PutUint64(buf[:8], uint64(k.GameID))
		binary.BigEndian.PutUint64(buf[8:], uint64(k.PlayID))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
