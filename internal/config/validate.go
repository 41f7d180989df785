package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that is surfaced but does not block
	// execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "filter.chunk_size",
// "dataset.tables[2].role"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks cfg and returns every issue found. It does not mutate cfg.
//
// Struct tag rules run first; the remaining checks cover relationships the
// tags cannot express (one plays table, unique names, backend settings).
func Validate(cfg Config) []Issue {
	var issues []Issue
	issues = append(issues, structIssues(cfg)...)
	issues = append(issues, validateTables(cfg)...)
	issues = append(issues, validateCSV(cfg.CSV)...)
	issues = append(issues, validateMetrics(cfg.Metrics)...)
	issues = append(issues, validateReport(cfg.Report)...)
	return issues
}

// structIssues maps validator/v10 failures onto Issue values. Namespaces are
// rewritten from "Config.dataset.tables[0].role" to "dataset.tables[0].role".
func structIssues(cfg Config) []Issue {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Issue{{Severity: SeverityError, Path: "", Message: err.Error()}}
	}
	issues := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path,
			Message:  describe(fe),
		})
	}
	return issues
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "len":
		return fmt.Sprintf("must have exactly %s entries", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "gt":
		return fmt.Sprintf("must be > %s, got %v", fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("must be >= %s, got %v", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

func validateTables(cfg Config) []Issue {
	var issues []Issue

	plays := 0
	names := make(map[string]int, len(cfg.Dataset.Tables))
	files := make(map[string]int, len(cfg.Dataset.Tables))
	for i, t := range cfg.Dataset.Tables {
		path := fmt.Sprintf("dataset.tables[%d]", i)
		if t.Role == RolePlays {
			plays++
			if t.Optional {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path + ".optional",
					Message:  "the plays table cannot be optional; the removed-key set is derived from it",
				})
			}
			if cfg.Filter.RetainColumn != "" && !slices.Contains(t.Required, cfg.Filter.RetainColumn) {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     path + ".required",
					Message:  fmt.Sprintf("retain column %q is not listed as required; a missing column will fail the run late", cfg.Filter.RetainColumn),
				})
			}
		}
		if t.Name != "" {
			if prev, ok := names[t.Name]; ok {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path + ".name",
					Message:  fmt.Sprintf("duplicate table name %q (also dataset.tables[%d])", t.Name, prev),
				})
			} else {
				names[t.Name] = i
			}
		}
		if t.File != "" {
			if prev, ok := files[t.File]; ok {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path + ".file",
					Message:  fmt.Sprintf("file %q is already used by dataset.tables[%d]", t.File, prev),
				})
			} else {
				files[t.File] = i
			}
		}
		if t.Role != RolePlays && len(cfg.Filter.KeyColumns) == 2 {
			for _, kc := range cfg.Filter.KeyColumns {
				if kc != "" && !slices.Contains(t.Required, kc) {
					issues = append(issues, Issue{
						Severity: SeverityWarning,
						Path:     path + ".required",
						Message:  fmt.Sprintf("key column %q is not listed as required", kc),
					})
				}
			}
		}
	}

	switch {
	case len(cfg.Dataset.Tables) == 0:
		// reported by the struct tags
	case plays == 0:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "dataset.tables",
			Message:  "exactly one table must have role \"plays\"; found none",
		})
	case plays > 1:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "dataset.tables",
			Message:  fmt.Sprintf("exactly one table must have role \"plays\"; found %d", plays),
		})
	}

	if kc := cfg.Filter.KeyColumns; len(kc) == 2 && kc[0] != "" && kc[0] == kc[1] {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "filter.key_columns",
			Message:  "game and play key columns must differ",
		})
	}
	return issues
}

func validateCSV(c CSV) []Issue {
	if c.Comma == "" {
		return nil
	}
	r, size := utf8.DecodeRuneInString(c.Comma)
	if size != len(c.Comma) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return []Issue{{
			Severity: SeverityError,
			Path:     "csv.comma",
			Message:  fmt.Sprintf("must be a single delimiter character other than quote or newline, got %q", c.Comma),
		}}
	}
	return nil
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	switch m.Backend {
	case "pushgateway":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "required when metrics.backend is pushgateway",
			})
		}
	case "datadog":
		if strings.TrimSpace(m.DatadogAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.datadog_addr",
				Message:  "required when metrics.backend is datadog",
			})
		}
	}
	return issues
}

func validateReport(r Report) []Issue {
	var issues []Issue
	if r.Kind == "" || r.Kind == "none" {
		return nil
	}
	if strings.TrimSpace(r.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "report.dsn",
			Message:  fmt.Sprintf("required when report.kind is %s", r.Kind),
		})
	}
	if strings.TrimSpace(r.Table) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "report.table",
			Message:  "must not be empty when a run ledger is configured",
		})
	}
	return issues
}
