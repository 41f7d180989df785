// Package report persists the outcome of a filter run: a per-table row in a
// SQL run ledger, the removed-key set, and an optional JSON summary file.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bdbfilter/internal/config"
	"bdbfilter/internal/filter"
	"bdbfilter/internal/storage"
)

// RunsTable is the ledger layout: one row per table per run.
func RunsTable(name string) storage.Table {
	return storage.Table{
		Name: name,
		Columns: []storage.Column{
			{Name: "run_id", Type: storage.TypeText},
			{Name: "job", Type: storage.TypeText},
			{Name: "started_at", Type: storage.TypeTimestamp},
			{Name: "finished_at", Type: storage.TypeTimestamp},
			{Name: "table_name", Type: storage.TypeText},
			{Name: "role", Type: storage.TypeText},
			{Name: "path", Type: storage.TypeText},
			{Name: "status", Type: storage.TypeText},
			{Name: "original_rows", Type: storage.TypeBigInt},
			{Name: "retained_rows", Type: storage.TypeBigInt},
			{Name: "removed_rows", Type: storage.TypeBigInt},
			{Name: "unkeyed_rows", Type: storage.TypeBigInt},
			{Name: "chunks", Type: storage.TypeBigInt},
			{Name: "elapsed_ms", Type: storage.TypeBigInt},
			{Name: "removed_keys", Type: storage.TypeBigInt},
			{Name: "keyset_digest", Type: storage.TypeText, Nullable: true},
			{Name: "error", Type: storage.TypeText, Nullable: true},
		},
	}
}

// KeysTable is the layout of the removed-key export.
func KeysTable(name string) storage.Table {
	return storage.Table{
		Name: name,
		Columns: []storage.Column{
			{Name: "run_id", Type: storage.TypeText},
			{Name: "game_id", Type: storage.TypeBigInt},
			{Name: "play_id", Type: storage.TypeBigInt},
		},
	}
}

const defaultBatchSize = 5000

// Ledger writes run summaries through a storage backend.
type Ledger struct {
	cfg config.Report
	log zerolog.Logger
}

// NewLedger returns a Ledger for cfg. The backend for cfg.Kind must be
// registered (import storage/all).
func NewLedger(cfg config.Report, log zerolog.Logger) *Ledger {
	return &Ledger{cfg: cfg, log: log.With().Str("component", "ledger").Str("kind", cfg.Kind).Logger()}
}

// Enabled reports whether a backend is configured.
func (l *Ledger) Enabled() bool { return l.cfg.Kind != "" && l.cfg.Kind != "none" }

// Record appends sum to the runs table, then exports the removed-key set when
// a keys table is configured. Tables are created when missing.
func (l *Ledger) Record(ctx context.Context, sum *filter.Summary) error {
	if !l.Enabled() {
		return nil
	}
	runs := RunsTable(l.cfg.Table)
	n, err := l.copy(ctx, runs, func(ctx context.Context, repo storage.Repository) (int64, error) {
		return repo.CopyFrom(ctx, runs.ColumnNames(), RunRows(sum))
	})
	if err != nil {
		return fmt.Errorf("ledger %s: %w", runs.Name, err)
	}
	l.log.Info().Str("table", runs.Name).Int64("rows", n).Msg("run recorded")

	set := sum.RemovedSet()
	if l.cfg.KeysTable == "" || set.Len() == 0 {
		return nil
	}
	kt := KeysTable(l.cfg.KeysTable)
	n, err = l.copy(ctx, kt, func(ctx context.Context, repo storage.Repository) (int64, error) {
		return l.loadKeys(ctx, repo, kt, sum)
	})
	if err != nil {
		return fmt.Errorf("ledger %s: %w", kt.Name, err)
	}
	l.log.Info().Str("table", kt.Name).Int64("rows", n).Msg("removed keys exported")
	return nil
}

func (l *Ledger) copy(ctx context.Context, td storage.Table, load func(context.Context, storage.Repository) (int64, error)) (int64, error) {
	repo, err := storage.New(ctx, storage.Config{
		Kind:    l.cfg.Kind,
		DSN:     l.cfg.DSN,
		Table:   td.Name,
		Columns: td.ColumnNames(),
	})
	if err != nil {
		return 0, err
	}
	defer repo.Close()

	if err := storage.EnsureTable(ctx, l.cfg.Kind, repo, td); err != nil {
		return 0, err
	}
	return load(ctx, repo)
}

// loadKeys streams the sorted removed keys through storage.LoadBatches.
func (l *Ledger) loadKeys(ctx context.Context, repo storage.Repository, td storage.Table, sum *filter.Summary) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batch := l.cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	in := make(chan []any, batch)
	go func() {
		defer close(in)
		for _, k := range sum.RemovedSet().Sorted() {
			select {
			case in <- []any{sum.RunID, k.GameID, k.PlayID}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return storage.LoadBatches(ctx, l.log, td.ColumnNames(), in, batch, repo.CopyFrom)
}

// RunRows renders sum as rows of RunsTable. A run stopped by validation has
// no file results; its rows come from the validation report instead.
func RunRows(sum *filter.Summary) [][]any {
	digest := nullable(sum.KeysetDigest)
	finished := sum.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	if len(sum.Files) == 0 && sum.Validation != nil {
		rows := make([][]any, 0, len(sum.Validation.Files))
		for _, f := range sum.Validation.Files {
			rows = append(rows, []any{
				sum.RunID, sum.Job, sum.StartedAt, finished,
				f.Table, string(f.Role), f.Path, "validation_" + string(f.Status),
				int64(0), int64(0), int64(0), int64(0), int64(0), int64(0),
				int64(sum.RemovedKeys), digest, nullable(f.Problem()),
			})
		}
		return rows
	}

	rows := make([][]any, 0, len(sum.Files))
	for _, f := range sum.Files {
		rows = append(rows, []any{
			sum.RunID, sum.Job, sum.StartedAt, finished,
			f.Table, string(f.Role), f.Path, string(f.Status),
			f.Original, f.Retained, f.Removed, f.Unkeyed, f.Chunks, f.Elapsed.Milliseconds(),
			int64(sum.RemovedKeys), digest, nullable(f.Error),
		})
	}
	return rows
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
