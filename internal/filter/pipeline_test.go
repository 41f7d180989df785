package filter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bdbfilter/internal/config"
	"bdbfilter/internal/keys"
	"bdbfilter/internal/parser/csv"
)

const (
	playsCSV = "gameId,playId,specialTeamsPlayType,playDescription\n" +
		"1,1,Punt,p1\n" +
		"1,2,Kickoff,k1\n" +
		"1,3,Field Goal,fg\n" +
		"1,4,Punt,p2\n" +
		"1,5,Extra Point,xp\n"

	scoutingCSV = "gameId,playId,snapDetail\n" +
		"1,1,OK\n" +
		"1,3,OK\n" +
		"1,3,H\n" +
		"1,6,L\n"

	trackingCSV = "time,x,y,gameId,playId\n" +
		"t0,1.0,2.0,1,1\n" +
		"t1,1.1,2.1,1,3\n" +
		"t2,1.2,2.2,1,3\n" +
		"t3,1.3,2.3,1,4\n" +
		"t4,1.4,2.4,1,5\n" +
		"t5,1.5,2.5,1,6\n"
)

// dataset writes the three standard tables plus the files in extra and
// returns a config pointing at them.
func dataset(t *testing.T, extra map[string]string) config.Config {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"plays.csv":           playsCSV,
		"PFFScoutingData.csv": scoutingCSV,
		"tracking2018.csv":    trackingCSV,
	}
	for name, body := range extra {
		files[name] = body
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	cfg := config.Default()
	cfg.Dataset.BaseDir = dir
	cfg.Dataset.Tables = cfg.Dataset.Tables[:3]
	cfg.Filter.ChunkSize = 2
	cfg.Filter.ProgressEvery = 1
	return cfg
}

func newPipeline(cfg config.Config, log zerolog.Logger) *Pipeline {
	p := New(cfg, log)
	p.newRunID = func() string { return "run-1" }
	return p
}

func readTable(t *testing.T, cfg config.Config, name string) string {
	t.Helper()
	return readFile(t, filepath.Join(cfg.Dataset.BaseDir, name))
}

func TestRun_FiltersAllTables(t *testing.T) {
	t.Parallel()

	cfg := dataset(t, nil)
	sum, err := newPipeline(cfg, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "gameId,playId,specialTeamsPlayType,playDescription\n"+
		"1,1,Punt,p1\n1,2,Kickoff,k1\n1,4,Punt,p2\n", readTable(t, cfg, "plays.csv"))
	assert.Equal(t, "gameId,playId,snapDetail\n1,1,OK\n1,6,L\n", readTable(t, cfg, "PFFScoutingData.csv"))
	assert.Equal(t, "time,x,y,gameId,playId\n"+
		"t0,1.0,2.0,1,1\nt3,1.3,2.3,1,4\nt5,1.5,2.5,1,6\n", readTable(t, cfg, "tracking2018.csv"))

	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 2, sum.RemovedKeys)
	assert.Len(t, sum.KeysetDigest, 16)
	assert.Empty(t, sum.Failed())
	require.Len(t, sum.Files, 3)

	plays, scouting, tracking := sum.Files[0], sum.Files[1], sum.Files[2]
	assert.Equal(t, config.RolePlays, plays.Role)
	assert.Equal(t, int64(5), plays.Original)
	assert.Equal(t, int64(3), plays.Retained)

	assert.Equal(t, StatusOK, scouting.Status)
	assert.Equal(t, int64(4), scouting.Original)
	assert.Equal(t, int64(2), scouting.Removed)
	assert.Equal(t, int64(1), scouting.Chunks)

	assert.Equal(t, int64(6), tracking.Original)
	assert.Equal(t, int64(3), tracking.Retained)
	assert.Equal(t, int64(3), tracking.Chunks)

	tot := sum.Totals()
	assert.Equal(t, tot.Original, tot.Retained+tot.Removed)
	assert.False(t, sum.FinishedAt.Before(sum.StartedAt))
}

func TestRun_NoRemovedKeyInOutput(t *testing.T) {
	t.Parallel()

	cfg := dataset(t, nil)
	_, err := newPipeline(cfg, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	removed := keys.NewSet(0)
	removed.Add(keys.Key{GameID: 1, PlayID: 3})
	removed.Add(keys.Key{GameID: 1, PlayID: 5})

	for _, tbl := range cfg.Dataset.Tables {
		r, err := csv.Open(context.Background(), tbl.Path(cfg.Dataset.BaseDir), csv.Options{})
		require.NoError(t, err)
		cols, err := keys.Locate(r.Header(), "gameId", "playId")
		require.NoError(t, err)
		rows, err := r.ReadAll()
		require.NoError(t, r.Close())
		require.NoError(t, err)
		for _, rec := range rows {
			k, err := cols.Key(rec)
			require.NoError(t, err)
			assert.False(t, removed.Contains(k), "%s still has %v", tbl.Name, k)
		}
	}
}

func TestRun_ChunkSizeDoesNotChangeOutput(t *testing.T) {
	t.Parallel()

	small := dataset(t, nil)
	small.Filter.ChunkSize = 1
	large := dataset(t, nil)
	large.Filter.ChunkSize = 100_000

	_, err := newPipeline(small, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	_, err = newPipeline(large, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	for _, tbl := range small.Dataset.Tables {
		assert.Equal(t, readTable(t, small, tbl.File), readTable(t, large, tbl.File), tbl.Name)
	}
}

func TestRun_AtomicAndBufferedMatch(t *testing.T) {
	t.Parallel()

	atomic := dataset(t, nil)
	buffered := dataset(t, nil)
	buffered.Filter.AtomicWrite = false

	_, err := newPipeline(atomic, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	_, err = newPipeline(buffered, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	for _, tbl := range atomic.Dataset.Tables {
		assert.Equal(t, readTable(t, atomic, tbl.File), readTable(t, buffered, tbl.File), tbl.Name)
	}
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()

	cfg := dataset(t, nil)
	_, err := newPipeline(cfg, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	first := map[string]string{}
	for _, tbl := range cfg.Dataset.Tables {
		first[tbl.File] = readTable(t, cfg, tbl.File)
	}

	sum, err := newPipeline(cfg, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.RemovedKeys)
	for _, tbl := range cfg.Dataset.Tables {
		assert.Equal(t, first[tbl.File], readTable(t, cfg, tbl.File), tbl.Name)
	}
}

func TestRun_ValidationFailureWritesNothing(t *testing.T) {
	t.Parallel()

	cfg := dataset(t, map[string]string{
		"tracking2018.csv": "time,x,y,gameId\nt0,1,2,1\n",
	})
	before := map[string]string{}
	for _, tbl := range cfg.Dataset.Tables {
		before[tbl.File] = readTable(t, cfg, tbl.File)
	}

	sum, err := newPipeline(cfg, zerolog.Nop()).Run(context.Background())
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "playId")
	require.NotNil(t, sum.Validation)
	assert.False(t, sum.Validation.OK)
	assert.Empty(t, sum.Files)

	for _, tbl := range cfg.Dataset.Tables {
		assert.Equal(t, before[tbl.File], readTable(t, cfg, tbl.File), tbl.Name)
	}
}

func TestRun_MissingRequiredFile(t *testing.T) {
	t.Parallel()

	cfg := dataset(t, nil)
	require.NoError(t, os.Remove(filepath.Join(cfg.Dataset.BaseDir, "tracking2018.csv")))

	_, err := newPipeline(cfg, zerolog.Nop()).Run(context.Background())
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, playsCSV, readTable(t, cfg, "plays.csv"))
}

func TestRun_OptionalAbsentTableSkipped(t *testing.T) {
	t.Parallel()

	cfg := dataset(t, nil)
	cfg.Dataset.Tables = append(cfg.Dataset.Tables, config.Table{
		Name: "tracking2019", File: "tracking2019.csv", Role: config.RoleTracking,
		Required: []string{"gameId", "playId"}, Optional: true,
	})

	sum, err := newPipeline(cfg, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Files, 4)
	assert.Equal(t, StatusAbsent, sum.Files[3].Status)
	assert.Empty(t, sum.Failed())
	_, statErr := os.Stat(filepath.Join(cfg.Dataset.BaseDir, "tracking2019.csv"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestRun_DependentFailureContinues(t *testing.T) {
	t.Parallel()

	// the header passes validation but the body is malformed
	broken := "gameId,playId\n1,1\n1\n"
	cfg := dataset(t, map[string]string{
		"tracking2019.csv": broken,
		"tracking2020.csv": trackingCSV,
	})
	cfg.Dataset.Tables = config.Default().Dataset.Tables
	cfg.Filter.ChunkSize = 100

	sum, err := newPipeline(cfg, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	failed := sum.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "tracking2019", failed[0].Table)
	assert.NotEmpty(t, failed[0].Error)
	assert.Equal(t, broken, readTable(t, cfg, "tracking2019.csv"))

	// tables after the failure are still processed
	assert.Equal(t, StatusOK, sum.Files[4].Status)
	assert.Equal(t, readTable(t, cfg, "tracking2018.csv"), readTable(t, cfg, "tracking2020.csv"))
}

func TestRun_PlaysFailureIsFatal(t *testing.T) {
	t.Parallel()

	cfg := dataset(t, map[string]string{
		"plays.csv": "gameId,playId,specialTeamsPlayType\n1,1,Punt\n1,2\n",
	})

	sum, err := newPipeline(cfg, zerolog.Nop()).Run(context.Background())
	require.ErrorIs(t, err, ErrPlays)
	require.Len(t, sum.Files, 1)
	assert.Equal(t, StatusFailed, sum.Files[0].Status)
	assert.Equal(t, scoutingCSV, readTable(t, cfg, "PFFScoutingData.csv"))
	assert.Equal(t, trackingCSV, readTable(t, cfg, "tracking2018.csv"))
}

func TestRun_BOMPreserved(t *testing.T) {
	t.Parallel()

	cfg := dataset(t, map[string]string{
		"PFFScoutingData.csv": "\xEF\xBB\xBF" + scoutingCSV,
	})
	_, err := newPipeline(cfg, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "\xEF\xBB\xBFgameId,playId,snapDetail\n1,1,OK\n1,6,L\n", readTable(t, cfg, "PFFScoutingData.csv"))
	assert.False(t, strings.HasPrefix(readTable(t, cfg, "plays.csv"), "\xEF\xBB\xBF"))
}

func TestRun_BOMKeepsNonUTF8Bytes(t *testing.T) {
	t.Parallel()

	cfg := dataset(t, map[string]string{
		"plays.csv": "\xEF\xBB\xBFgameId,playId,specialTeamsPlayType,playDescription\n" +
			"1,1,Punt,caf\xE9\n" +
			"1,2,Extra Point,x\n",
	})
	_, err := newPipeline(cfg, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t,
		"\xEF\xBB\xBFgameId,playId,specialTeamsPlayType,playDescription\n1,1,Punt,caf\xE9\n",
		readTable(t, cfg, "plays.csv"))
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()

	cfg := dataset(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(cfg, zerolog.Nop()).Run(ctx)
	require.Error(t, err)
	assert.Equal(t, trackingCSV, readTable(t, cfg, "tracking2018.csv"))
}

func TestRun_LogsProgressAndSummary(t *testing.T) {
	t.Parallel()

	cfg := dataset(t, nil)
	var buf bytes.Buffer
	_, err := newPipeline(cfg, zerolog.New(&buf)).Run(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"message":"removed-key set derived"`)
	assert.Contains(t, out, `"message":"progress"`)
	assert.Contains(t, out, `"message":"table filtered"`)
	assert.Contains(t, out, `"message":"run complete"`)
}

func TestGuard_RecoversPanic(t *testing.T) {
	t.Parallel()

	err := guard(func() error { panic("boom") })
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.Contains(t, string(pe.Stack), "TestGuard_RecoversPanic")
	assert.Equal(t, "panic: boom", err.Error())
}

func TestFinish_RecordsPanicStack(t *testing.T) {
	t.Parallel()

	p := newPipeline(config.Default(), zerolog.Nop())
	res := FileResult{Table: "tracking2018"}
	p.finish(zerolog.Nop(), &res, &PanicError{Value: "boom", Stack: []byte("stack")}, time.Now())

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "panic: boom", res.Error)
	assert.Equal(t, "stack", res.Stack)
}
