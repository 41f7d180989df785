package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bdbfilter/internal/parser/csv"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestWriteTable_AtomicAndBufferedMatch(t *testing.T) {
	t.Parallel()

	header := []string{"gameId", "playId", "note"}
	rows := [][]string{{"1", "1", "plain"}, {"1", "2", `has "quotes", comma`}, {"1", "3", "multi\nline"}}

	dir := t.TempDir()
	atomicPath := filepath.Join(dir, "atomic.csv")
	bufferedPath := filepath.Join(dir, "buffered.csv")
	for _, p := range []string{atomicPath, bufferedPath} {
		require.NoError(t, os.WriteFile(p, []byte("old contents\n"), 0o644))
	}

	require.NoError(t, WriteTable(atomicPath, header, rows, WriterOptions{Atomic: true}))
	require.NoError(t, WriteTable(bufferedPath, header, rows, WriterOptions{Atomic: false}))

	want := "gameId,playId,note\n1,1,plain\n1,2,\"has \"\"quotes\"\", comma\"\n1,3,\"multi\nline\"\n"
	assert.Equal(t, want, readFile(t, atomicPath))
	assert.Equal(t, want, readFile(t, bufferedPath))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporary files left behind")
}

func TestWriteTable_HeaderOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, WriteTable(path, []string{"gameId", "playId"}, nil, WriterOptions{Atomic: true}))
	assert.Equal(t, "gameId,playId\n", readFile(t, path))
}

func TestWriteTable_BOMAndDelimiter(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bom.csv")
	opt := WriterOptions{CSV: csv.Options{Comma: ';'}, BOM: true, Atomic: true}
	require.NoError(t, WriteTable(path, []string{"gameId", "playId"}, [][]string{{"1", "2"}}, opt))
	assert.Equal(t, "\xEF\xBB\xBFgameId;playId\n1;2\n", readFile(t, path))
}

func TestTableWriter_AbortKeepsOriginal(t *testing.T) {
	t.Parallel()

	for _, atomic := range []bool{true, false} {
		dir := t.TempDir()
		path := filepath.Join(dir, "t.csv")
		require.NoError(t, os.WriteFile(path, []byte("original\n"), 0o644))

		w, err := NewTableWriter(path, WriterOptions{Atomic: atomic})
		require.NoError(t, err)
		require.NoError(t, w.WriteHeader([]string{"a"}))
		require.NoError(t, w.WriteBatch([][]string{{"1"}}))
		w.Abort()

		assert.Equal(t, "original\n", readFile(t, path), "atomic=%v", atomic)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "atomic=%v", atomic)
	}
}

func TestTableWriter_BatchesAppendInOrder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "t.csv")
	w, err := NewTableWriter(path, WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader([]string{"a"}))
	require.NoError(t, w.WriteBatch([][]string{{"1"}, {"2"}}))
	require.NoError(t, w.WriteBatch([][]string{{"3"}}))
	require.NoError(t, w.Commit())
	assert.Equal(t, "a\n1\n2\n3\n", readFile(t, path))
}
