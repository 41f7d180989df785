// Package schema checks that each dataset table carries its required columns
// before anything is filtered. Only header records are read; bodies are never
// loaded (the plays table sample check reads at most SampleRows records).
package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"bdbfilter/internal/config"
	"bdbfilter/internal/datasource/file"
	"bdbfilter/internal/parser/csv"
)

// Status is the outcome of checking one table.
type Status string

const (
	StatusOK             Status = "ok"
	StatusAbsent         Status = "absent"
	StatusMissingColumns Status = "missing_columns"
	StatusUnreadable     Status = "unreadable"
)

// firstColumns is how many header names a FileReport keeps for display.
const firstColumns = 5

// FileReport is the result for one table.
type FileReport struct {
	Table    string
	Role     config.Role
	Path     string
	Optional bool
	Status   Status

	// Columns is the header width; FirstColumns its leading names.
	Columns      int
	FirstColumns []string

	// Missing lists required columns absent from the header, in required order.
	Missing []string

	// Err is set for StatusUnreadable.
	Err error

	// Warnings never affect OK.
	Warnings []string
}

// Failed reports whether this file blocks the run.
func (f FileReport) Failed() bool {
	switch f.Status {
	case StatusOK:
		return false
	case StatusAbsent:
		return !f.Optional
	default:
		return true
	}
}

// Problem describes a failed file in one line.
func (f FileReport) Problem() string {
	switch f.Status {
	case StatusAbsent:
		return fmt.Sprintf("%s: file not found: %s", f.Table, f.Path)
	case StatusMissingColumns:
		return fmt.Sprintf("%s: missing required columns [%s]", f.Table, strings.Join(f.Missing, ", "))
	case StatusUnreadable:
		return fmt.Sprintf("%s: %v", f.Table, f.Err)
	default:
		return ""
	}
}

// Report aggregates all tables. OK is false when any file Failed.
type Report struct {
	OK    bool
	Files []FileReport
}

// Failures returns the reports that block the run.
func (r Report) Failures() []FileReport {
	var out []FileReport
	for _, f := range r.Files {
		if f.Failed() {
			out = append(out, f)
		}
	}
	return out
}

// Err joins every failure into one error, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, f := range r.Failures() {
		errs = append(errs, errors.New(f.Problem()))
	}
	return errors.Join(errs...)
}

// Options configures a Validator.
type Options struct {
	CSV csv.Options

	// RetainColumn and RetainValues drive the plays sample check.
	RetainColumn string
	RetainValues []string

	// SampleRows is how many plays rows are inspected; 0 disables the check.
	SampleRows int
}

// Validator checks table headers against their required columns.
type Validator struct {
	log  zerolog.Logger
	opts Options
}

// New returns a Validator that logs through log.
func New(log zerolog.Logger, opts Options) *Validator {
	return &Validator{log: log.With().Str("component", "schema").Logger(), opts: opts}
}

// Validate checks every table under baseDir. It has no side effects besides
// reading headers (and the plays sample).
func (v *Validator) Validate(ctx context.Context, baseDir string, tables []config.Table) Report {
	rep := Report{OK: true, Files: make([]FileReport, 0, len(tables))}
	for _, t := range tables {
		fr := v.check(ctx, t.Path(baseDir), t)
		v.logFile(fr)
		if fr.Failed() {
			rep.OK = false
		}
		rep.Files = append(rep.Files, fr)
	}
	if rep.OK {
		v.log.Info().Int("files", len(rep.Files)).Msg("validation passed")
	} else {
		v.log.Error().Int("failed", len(rep.Failures())).Msg("validation failed")
	}
	return rep
}

func (v *Validator) check(ctx context.Context, path string, t config.Table) FileReport {
	fr := FileReport{
		Table:    t.Name,
		Role:     t.Role,
		Path:     path,
		Optional: t.Optional,
	}

	ok, err := file.NewLocal(path).Exists()
	if err != nil {
		fr.Status, fr.Err = StatusUnreadable, err
		return fr
	}
	if !ok {
		fr.Status = StatusAbsent
		return fr
	}

	header, err := csv.ReadHeader(ctx, path, v.opts.CSV)
	if err != nil {
		fr.Status, fr.Err = StatusUnreadable, err
		return fr
	}
	fr.Columns = len(header)
	fr.FirstColumns = header[:min(firstColumns, len(header))]
	fr.Missing = MissingColumns(header, t.Required)
	if len(fr.Missing) > 0 {
		fr.Status = StatusMissingColumns
		return fr
	}
	fr.Status = StatusOK

	if t.Role == config.RolePlays && v.opts.SampleRows > 0 && v.opts.RetainColumn != "" {
		if w := v.sampleRetainValues(ctx, path); w != "" {
			fr.Warnings = append(fr.Warnings, w)
		}
	}
	return fr
}

// MissingColumns returns the names in required that header lacks, compared
// exactly and case-sensitively.
func MissingColumns(header, required []string) []string {
	var missing []string
	for _, col := range required {
		if !slices.Contains(header, col) {
			missing = append(missing, col)
		}
	}
	return missing
}

// sampleRetainValues reads up to SampleRows plays records and returns a
// warning when none of the retain values appear in the retain column.
func (v *Validator) sampleRetainValues(ctx context.Context, path string) string {
	r, err := csv.Open(ctx, path, v.opts.CSV)
	if err != nil {
		return fmt.Sprintf("sample check skipped: %v", err)
	}
	defer r.Close()

	col := slices.Index(r.Header(), v.opts.RetainColumn)
	if col < 0 {
		return ""
	}

	seen := map[string]struct{}{}
	for i := 0; i < v.opts.SampleRows; i++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Sprintf("sample check stopped after %d rows: %v", i, err)
		}
		if val := rec[col]; val != "" {
			seen[val] = struct{}{}
		}
	}

	for _, want := range v.opts.RetainValues {
		if _, ok := seen[want]; ok {
			return ""
		}
	}
	values := make([]string, 0, len(seen))
	for val := range seen {
		values = append(values, val)
	}
	sort.Strings(values)
	return fmt.Sprintf("none of [%s] found in %s within the first %d rows (may be in full dataset); sampled values: [%s]",
		strings.Join(v.opts.RetainValues, ", "), v.opts.RetainColumn, v.opts.SampleRows, strings.Join(values, ", "))
}

func (v *Validator) logFile(fr FileReport) {
	var ev *zerolog.Event
	switch {
	case fr.Failed():
		ev = v.log.Error()
	case fr.Status != StatusOK:
		ev = v.log.Warn()
	default:
		ev = v.log.Info()
	}
	ev = ev.Str("table", fr.Table).Str("path", fr.Path).Str("status", string(fr.Status))
	if fr.Status == StatusOK || fr.Status == StatusMissingColumns {
		ev = ev.Int("columns", fr.Columns).Strs("first_columns", fr.FirstColumns)
	}
	if len(fr.Missing) > 0 {
		ev = ev.Strs("missing", fr.Missing)
	}
	if fr.Err != nil {
		ev = ev.Err(fr.Err)
	}
	ev.Msg("checked table")

	for _, w := range fr.Warnings {
		v.log.Warn().Str("table", fr.Table).Msg(w)
	}
}
