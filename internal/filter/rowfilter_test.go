package filter

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bdbfilter/internal/keys"
)

var playsHeader = []string{"gameId", "playId", "specialTeamsPlayType", "playDescription"}

func playsRows() [][]string {
	types := []string{"Punt", "Kickoff", "Field Goal", "Punt", "Extra Point"}
	rows := make([][]string, len(types))
	for i, typ := range types {
		rows[i] = []string{"1", fmt.Sprint(i + 1), typ, "desc " + typ}
	}
	return rows
}

func derive(t *testing.T, rows [][]string) Derived {
	t.Helper()
	d, err := DeriveKeys(context.Background(), playsHeader, rows,
		"specialTeamsPlayType", NewRetain([]string{"Kickoff", "Punt"}), "gameId", "playId")
	require.NoError(t, err)
	return d
}

func TestDeriveKeys(t *testing.T) {
	t.Parallel()

	d := derive(t, playsRows())

	require.Len(t, d.Retained, 3)
	assert.Equal(t, []string{"1", "1", "Punt", "desc Punt"}, d.Retained[0])
	assert.Equal(t, "2", d.Retained[1][1])
	assert.Equal(t, "4", d.Retained[2][1])
	assert.Equal(t, []keys.Key{{GameID: 1, PlayID: 3}, {GameID: 1, PlayID: 5}}, d.Removed.Sorted())
	assert.Equal(t, TableStats{Original: 5, Retained: 3, Removed: 2, Chunks: 1}, d.Stats)
	assert.Zero(t, d.Unkeyed)
}

func TestDeriveKeys_MissingAndUnknownValuesRemoved(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"1", "1", "", ""},
		{"1", "2", "NA", ""},
		{"1", "3", "kickoff", ""},
		{"1", "4", "Kickoff", ""},
	}
	d := derive(t, rows)
	require.Len(t, d.Retained, 1)
	assert.Equal(t, 3, d.Removed.Len())
}

func TestDeriveKeys_DuplicateKeys(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"1", "1", "Field Goal", ""},
		{"1", "1", "Field Goal", ""},
		{"1", "2", "Punt", ""},
	}
	d := derive(t, rows)
	assert.Equal(t, 1, d.Removed.Len())
	assert.Equal(t, int64(2), d.Stats.Removed)
}

func TestDeriveKeys_UnkeyedRemovedRow(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"1", "x", "Field Goal", ""},
		{"1", "2", "Punt", ""},
		{"", "3", "Punt", ""},
	}
	d := derive(t, rows)
	assert.Equal(t, 0, d.Removed.Len())
	assert.Equal(t, int64(1), d.Unkeyed)
	// retained rows are kept whether or not their key parses
	assert.Len(t, d.Retained, 2)
}

func TestDeriveKeys_MissingRetainColumn(t *testing.T) {
	t.Parallel()

	_, err := DeriveKeys(context.Background(), []string{"gameId", "playId"}, nil,
		"specialTeamsPlayType", NewRetain([]string{"Punt"}), "gameId", "playId")
	require.ErrorIs(t, err, keys.ErrMissingColumns)
	assert.Contains(t, err.Error(), "specialTeamsPlayType")
}

func TestDeriveKeys_MissingKeyColumn(t *testing.T) {
	t.Parallel()

	_, err := DeriveKeys(context.Background(), []string{"gameId", "specialTeamsPlayType"}, nil,
		"specialTeamsPlayType", NewRetain([]string{"Punt"}), "gameId", "playId")
	require.ErrorIs(t, err, keys.ErrMissingColumns)
	assert.Contains(t, err.Error(), "playId")
}

func TestKeyFilter(t *testing.T) {
	t.Parallel()

	removed := derive(t, playsRows()).Removed
	header := []string{"playId", "gameId", "x"}
	kf, err := NewKeyFilter(header, "gameId", "playId", removed)
	require.NoError(t, err)

	rows := [][]string{
		{"1", "1", "a"},
		{"3", "1", "b"},
		{"3", "1", "c"},
		{"6", "1", "d"},
		{"3.0", "1", "e"},
		{"", "1", "f"},
	}
	var kept []string
	for _, r := range rows {
		if kf.Keep(r) {
			kept = append(kept, r[2])
		}
	}
	// (1,3) appears three times, once as an integral float; the empty key is kept
	assert.Equal(t, []string{"a", "d", "f"}, kept)
	assert.Equal(t, int64(1), kf.Unkeyed)
}

func TestKeyFilter_EmptySetKeepsAll(t *testing.T) {
	t.Parallel()

	kf, err := NewKeyFilter([]string{"gameId", "playId"}, "gameId", "playId", keys.NewSet(0))
	require.NoError(t, err)
	assert.True(t, kf.Keep([]string{"1", "1"}))
}
