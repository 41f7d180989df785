package report

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bdbfilter/internal/config"
	"bdbfilter/internal/filter"
	_ "bdbfilter/internal/storage/sqlite"
)

// runPipeline filters a two-table dataset and returns its summary.
func runPipeline(t *testing.T, tracking string) *filter.Summary {
	t.Helper()
	dir := t.TempDir()
	plays := "gameId,playId,specialTeamsPlayType\n" +
		"1,1,Punt\n1,2,Field Goal\n2,7,Extra Point\n1,3,Kickoff\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plays.csv"), []byte(plays), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracking.csv"), []byte(tracking), 0o644))

	cfg := config.Default()
	cfg.Dataset.BaseDir = dir
	cfg.Dataset.Tables = []config.Table{
		{Name: "plays", File: "plays.csv", Role: config.RolePlays, Required: []string{"gameId", "playId", "specialTeamsPlayType"}},
		{Name: "tracking", File: "tracking.csv", Role: config.RoleTracking, Required: []string{"gameId", "playId"}},
	}
	sum, _ := filter.New(cfg, zerolog.Nop()).Run(context.Background())
	require.NotNil(t, sum)
	return sum
}

func ledgerConfig(t *testing.T) config.Report {
	t.Helper()
	cfg := config.Default().Report
	cfg.Kind = "sqlite"
	cfg.DSN = filepath.Join(t.TempDir(), "ledger.db")
	cfg.BatchSize = 1
	return cfg
}

func openDB(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLedger_Record(t *testing.T) {
	t.Parallel()

	sum := runPipeline(t, "gameId,playId\n1,1\n1,2\n2,7\n")
	cfg := ledgerConfig(t)
	ctx := context.Background()

	l := NewLedger(cfg, zerolog.Nop())
	require.True(t, l.Enabled())
	require.NoError(t, l.Record(ctx, sum))

	db := openDB(t, cfg.DSN)

	var (
		n                 int
		original, removed int64
		digest            string
	)
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(original_rows), SUM(removed_rows), MAX(keyset_digest) FROM filter_runs WHERE run_id = ?`, sum.RunID).
		Scan(&n, &original, &removed, &digest))
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(7), original)
	assert.Equal(t, int64(4), removed)
	assert.Equal(t, sum.KeysetDigest, digest)

	rows, err := db.QueryContext(ctx, `SELECT game_id, play_id FROM filter_removed_keys WHERE run_id = ? ORDER BY game_id, play_id`, sum.RunID)
	require.NoError(t, err)
	defer rows.Close()
	var got [][2]int64
	for rows.Next() {
		var g, p int64
		require.NoError(t, rows.Scan(&g, &p))
		got = append(got, [2]int64{g, p})
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, [][2]int64{{1, 2}, {2, 7}}, got)
}

func TestLedger_RecordTwiceAppends(t *testing.T) {
	t.Parallel()

	cfg := ledgerConfig(t)
	ctx := context.Background()
	l := NewLedger(cfg, zerolog.Nop())
	require.NoError(t, l.Record(ctx, runPipeline(t, "gameId,playId\n1,1\n")))
	require.NoError(t, l.Record(ctx, runPipeline(t, "gameId,playId\n1,1\n")))

	var runs int
	require.NoError(t, openDB(t, cfg.DSN).QueryRowContext(ctx, `SELECT COUNT(DISTINCT run_id) FROM filter_runs`).Scan(&runs))
	assert.Equal(t, 2, runs)
}

func TestLedger_ValidationFailureRows(t *testing.T) {
	t.Parallel()

	sum := runPipeline(t, "gameId,frameId\n1,1\n")
	require.Empty(t, sum.Files)

	rows := RunRows(sum)
	require.Len(t, rows, 2)
	assert.Equal(t, "validation_ok", rows[0][7])
	assert.Equal(t, "validation_missing_columns", rows[1][7])
	assert.Contains(t, rows[1][16], "playId")
	assert.Nil(t, rows[0][16])

	cfg := ledgerConfig(t)
	require.NoError(t, NewLedger(cfg, zerolog.Nop()).Record(context.Background(), sum))

	var keyTables int
	require.NoError(t, openDB(t, cfg.DSN).QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'filter_removed_keys'`).Scan(&keyTables))
	assert.Zero(t, keyTables, "no keys exported when plays never ran")
}

func TestLedger_Disabled(t *testing.T) {
	t.Parallel()

	l := NewLedger(config.Default().Report, zerolog.Nop())
	assert.False(t, l.Enabled())
	assert.NoError(t, l.Record(context.Background(), &filter.Summary{}))
}

func TestLedger_UnknownKind(t *testing.T) {
	t.Parallel()

	cfg := ledgerConfig(t)
	cfg.Kind = "oracle"
	err := NewLedger(cfg, zerolog.Nop()).Record(context.Background(), &filter.Summary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestRunRows_Columns(t *testing.T) {
	t.Parallel()

	sum := &filter.Summary{
		RunID:     "r",
		Job:       "j",
		StartedAt: time.Unix(0, 0).UTC(),
		Files: []filter.FileResult{
			{Table: "tracking2018", Status: filter.StatusFailed, Error: "boom", Elapsed: 1500 * time.Millisecond},
		},
	}
	rows := RunRows(sum)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0], len(RunsTable("x").Columns))
	assert.Equal(t, int64(1500), rows[0][13])
	assert.Nil(t, rows[0][15], "empty digest is stored as NULL")
	assert.Equal(t, "boom", rows[0][16])
}

func TestWriteSummaryJSON(t *testing.T) {
	t.Parallel()

	sum := runPipeline(t, "gameId,playId\n1,1\n1,2\n")
	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, WriteSummaryJSON(path, sum))

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		RunID       string `json:"run_id"`
		RemovedKeys int    `json:"removed_keys"`
		Files       []struct {
			Table    string `json:"table"`
			Status   string `json:"status"`
			Original int64  `json:"original_rows"`
		} `json:"files"`
		Validation []struct {
			Table  string `json:"table"`
			Status string `json:"status"`
		} `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, sum.RunID, doc.RunID)
	assert.Equal(t, 2, doc.RemovedKeys)
	require.Len(t, doc.Files, 2)
	assert.Equal(t, "tracking", doc.Files[1].Table)
	assert.Equal(t, "ok", doc.Files[1].Status)
	assert.Equal(t, int64(2), doc.Files[1].Original)
	require.Len(t, doc.Validation, 2)
	assert.NotContains(t, string(b), `"Err"`)
}
