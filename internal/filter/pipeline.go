package filter

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bdbfilter/internal/config"
	"bdbfilter/internal/datasource/file"
	"bdbfilter/internal/keys"
	"bdbfilter/internal/metrics"
	"bdbfilter/internal/parser/csv"
	"bdbfilter/internal/schema"
)

var (
	// ErrValidation means the schema check failed; no file was modified.
	ErrValidation = errors.New("schema validation failed")
	// ErrPlays means the removed-key set could not be derived or the plays
	// table could not be rewritten; no dependent table was modified.
	ErrPlays = errors.New("plays table")
)

// Pipeline runs validation and the three filter passes for one dataset.
type Pipeline struct {
	cfg       config.Config
	log       zerolog.Logger
	validator *schema.Validator

	now      func() time.Time
	newRunID func() string
}

// New returns a Pipeline for cfg. cfg is expected to have passed
// config.Validate.
func New(cfg config.Config, log zerolog.Logger) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		newRunID: func() string { return uuid.NewString() },
	}
	p.validator = schema.New(log, schema.Options{
		CSV:          p.csvOptions(),
		RetainColumn: cfg.Filter.RetainColumn,
		RetainValues: cfg.Filter.RetainValues,
		SampleRows:   cfg.Filter.SampleRows,
	})
	return p
}

func (p *Pipeline) csvOptions() csv.Options {
	return csv.Options{Comma: p.cfg.CSV.CommaRune(), LazyQuotes: p.cfg.CSV.LazyQuotes}
}

func (p *Pipeline) writerOptions(bom bool) WriterOptions {
	return WriterOptions{CSV: p.csvOptions(), BOM: bom, Atomic: p.cfg.Filter.AtomicWrite}
}

// Validate runs the schema check alone. It never modifies files.
func (p *Pipeline) Validate(ctx context.Context) schema.Report {
	return p.validator.Validate(ctx, p.cfg.Dataset.BaseDir, p.cfg.Dataset.Tables)
}

// Run validates the dataset, derives the removed-key set from the plays
// table, rewrites plays, then filters every dependent table in order.
//
// A validation failure returns an error wrapping ErrValidation and a failure
// on the plays table one wrapping ErrPlays; in both cases no dependent table
// is touched. Failures on dependent tables are recorded in the Summary and
// do not produce an error. Cancellation stops between tables (and between
// chunks) and returns ctx.Err().
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{RunID: p.newRunID(), Job: p.cfg.Job, StartedAt: p.now()}
	defer func() { sum.FinishedAt = p.now() }()
	log := p.log.With().Str("run_id", sum.RunID).Logger()

	start := time.Now()
	rep := p.validator.Validate(ctx, p.cfg.Dataset.BaseDir, p.cfg.Dataset.Tables)
	sum.Validation = &rep
	var verr error
	if !rep.OK {
		verr = fmt.Errorf("%w: %w", ErrValidation, rep.Err())
	}
	metrics.RecordStep(p.cfg.Job, "validate", verr, time.Since(start))
	if verr != nil {
		return sum, verr
	}

	plays, ok := p.cfg.PlaysTable()
	if !ok {
		return sum, fmt.Errorf("%w: no table with role %q configured", ErrPlays, config.RolePlays)
	}

	start = time.Now()
	res, removed := p.filterPlays(ctx, log, plays)
	sum.Files = append(sum.Files, res)
	metrics.RecordStep(p.cfg.Job, "derive_keys", res.Err, time.Since(start))
	if res.Err != nil {
		return sum, fmt.Errorf("%w: %w", ErrPlays, res.Err)
	}
	sum.removed = removed
	sum.RemovedKeys = removed.Len()
	sum.KeysetDigest = fmt.Sprintf("%016x", removed.Digest())
	log.Info().
		Int("removed_keys", sum.RemovedKeys).
		Str("keyset_digest", sum.KeysetDigest).
		Msg("removed-key set derived")

	start = time.Now()
	var ferr error
	for _, t := range p.cfg.Dataset.Tables {
		if t.Role == config.RolePlays {
			continue
		}
		if ferr = ctx.Err(); ferr != nil {
			break
		}
		sum.Files = append(sum.Files, p.filterDependent(ctx, log, t, removed))
	}
	if ferr == nil {
		ferr = ctx.Err()
	}
	if ferr == nil && len(sum.Failed()) > 0 {
		metrics.RecordStep(p.cfg.Job, "filter", fmt.Errorf("%d tables failed", len(sum.Failed())), time.Since(start))
	} else {
		metrics.RecordStep(p.cfg.Job, "filter", ferr, time.Since(start))
	}

	p.logSummary(log, sum)
	return sum, ferr
}

// filterPlays performs Steps A and B: load plays, derive the removed-key
// set, and overwrite plays with the retained rows.
func (p *Pipeline) filterPlays(ctx context.Context, log zerolog.Logger, t config.Table) (FileResult, *keys.Set) {
	res := FileResult{Table: t.Name, Role: t.Role, Path: t.Path(p.cfg.Dataset.BaseDir)}
	started := time.Now()
	var removed *keys.Set

	err := guard(func() error {
		r, err := csv.Open(ctx, res.Path, p.csvOptions())
		if err != nil {
			return err
		}
		header, bom := r.Header(), r.HasBOM()
		rows, err := r.ReadAll()
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("%s: %w", res.Path, err)
		}
		if err := requireColumns(header, t.Required); err != nil {
			return err
		}

		d, err := DeriveKeys(ctx, header, rows,
			p.cfg.Filter.RetainColumn, NewRetain(p.cfg.Filter.RetainValues),
			p.cfg.Filter.GameColumn(), p.cfg.Filter.PlayColumn())
		if err != nil {
			return err
		}
		res.apply(d.Stats)
		res.Unkeyed = d.Unkeyed
		removed = d.Removed
		if d.Unkeyed > 0 {
			log.Warn().Str("table", t.Name).Int64("unkeyed", d.Unkeyed).Msg("removed plays without integer keys")
		}
		return WriteTable(res.Path, header, d.Retained, p.writerOptions(bom))
	})
	p.finish(log, &res, err, started)
	return res, removed
}

// filterDependent performs Step C (scouting, one batch) or Step D (tracking,
// chunked) for t. Every failure is captured in the result.
func (p *Pipeline) filterDependent(ctx context.Context, log zerolog.Logger, t config.Table, removed *keys.Set) FileResult {
	res := FileResult{Table: t.Name, Role: t.Role, Path: t.Path(p.cfg.Dataset.BaseDir)}
	started := time.Now()

	exists, err := file.NewLocal(res.Path).Exists()
	if err == nil && !exists {
		res.Status = StatusAbsent
		res.Elapsed = time.Since(started)
		log.Warn().Str("table", t.Name).Str("path", res.Path).Msg("table absent, skipped")
		metrics.RecordFile(p.cfg.Job, t.Name, string(res.Status), res.Elapsed)
		return res
	}
	if err == nil {
		err = guard(func() error {
			return p.filterFile(ctx, log, t, &res, removed, t.Role == config.RoleTracking)
		})
	}
	p.finish(log, &res, err, started)
	return res
}

func (p *Pipeline) filterFile(ctx context.Context, log zerolog.Logger, t config.Table, res *FileResult, removed *keys.Set, chunked bool) error {
	r, err := csv.Open(ctx, res.Path, p.csvOptions())
	if err != nil {
		return err
	}
	readerOpen := true
	closeReader := func() error {
		if !readerOpen {
			return nil
		}
		readerOpen = false
		return r.Close()
	}
	defer closeReader()

	header := r.Header()
	if err := requireColumns(header, t.Required); err != nil {
		return err
	}
	kf, err := NewKeyFilter(header, p.cfg.Filter.GameColumn(), p.cfg.Filter.PlayColumn(), removed)
	if err != nil {
		return err
	}

	var src BatchSource
	if chunked {
		src = NewChunkSource(r, p.cfg.Filter.ChunkSize)
	} else {
		rows, err := r.ReadAll()
		if err != nil {
			return fmt.Errorf("%s: %w", res.Path, err)
		}
		if err := closeReader(); err != nil {
			return err
		}
		src = NewSliceSource(header, rows)
	}

	w, err := NewTableWriter(res.Path, p.writerOptions(r.HasBOM()))
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			w.Abort()
		}
	}()

	st, err := FilterTable(ctx, src, kf, w, p.heartbeat(log, t.Name))
	res.apply(st)
	res.Unkeyed = kf.Unkeyed
	if err != nil {
		return fmt.Errorf("%s: %w", res.Path, err)
	}
	if err := closeReader(); err != nil {
		return err
	}
	committed = true
	return w.Commit()
}

// heartbeat logs running totals every ProgressEvery chunks.
func (p *Pipeline) heartbeat(log zerolog.Logger, table string) func(TableStats) {
	every := int64(p.cfg.Filter.ProgressEvery)
	if every <= 0 {
		return nil
	}
	return func(st TableStats) {
		if st.Chunks%every != 0 {
			return
		}
		log.Info().
			Str("table", table).
			Int64("chunks", st.Chunks).
			Int64("rows", st.Original).
			Int64("retained", st.Retained).
			Msg("progress")
	}
}

func (p *Pipeline) finish(log zerolog.Logger, res *FileResult, err error, started time.Time) {
	res.Elapsed = time.Since(started)
	job := p.cfg.Job
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		res.Error = err.Error()
		var pe *PanicError
		if errors.As(err, &pe) {
			res.Stack = string(pe.Stack)
		}
		log.Error().
			Err(err).
			Str("table", res.Table).
			Str("path", res.Path).
			Str("stack", res.Stack).
			Msg("table failed")
	} else {
		res.Status = StatusOK
		log.Info().
			Str("table", res.Table).
			Int64("original", res.Original).
			Int64("retained", res.Retained).
			Int64("removed", res.Removed).
			Int64("chunks", res.Chunks).
			Dur("elapsed", res.Elapsed).
			Msg("table filtered")
	}

	metrics.RecordTable(job, res.Table, string(res.Status), metrics.TableCounts{
		Read:     res.Original,
		Retained: res.Retained,
		Removed:  res.Removed,
		Unkeyed:  res.Unkeyed,
		Chunks:   res.Chunks,
	}, res.Elapsed)
}

func (p *Pipeline) logSummary(log zerolog.Logger, sum *Summary) {
	tot := sum.Totals()
	failed := len(sum.Failed())
	level := zerolog.InfoLevel
	if failed > 0 {
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).
		Int("tables", len(sum.Files)).
		Int("failed_tables", failed).
		Int64("original", tot.Original).
		Int64("retained", tot.Retained).
		Int64("removed", tot.Removed).
		Int("removed_keys", sum.RemovedKeys).
		Msg("run complete")
}

// guard runs fn and converts a panic into a *PanicError.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

func requireColumns(header, required []string) error {
	if missing := schema.MissingColumns(header, required); len(missing) > 0 {
		return fmt.Errorf("%w: [%s]", keys.ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil
}
