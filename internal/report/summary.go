package report

import (
	"fmt"

	"github.com/goccy/go-json"

	"bdbfilter/internal/datasource/file"
	"bdbfilter/internal/filter"
	"bdbfilter/internal/schema"
)

type validationEntry struct {
	Table    string        `json:"table"`
	Path     string        `json:"path"`
	Status   schema.Status `json:"status"`
	Missing  []string      `json:"missing,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Problem  string        `json:"problem,omitempty"`
}

type summaryDoc struct {
	*filter.Summary
	Validation []validationEntry `json:"validation,omitempty"`
}

// MarshalSummary renders sum as indented JSON, including the validation
// outcome of every table.
func MarshalSummary(sum *filter.Summary) ([]byte, error) {
	doc := summaryDoc{Summary: sum}
	if sum.Validation != nil {
		for _, f := range sum.Validation.Files {
			doc.Validation = append(doc.Validation, validationEntry{
				Table:    f.Table,
				Path:     f.Path,
				Status:   f.Status,
				Missing:  f.Missing,
				Warnings: f.Warnings,
				Problem:  f.Problem(),
			})
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// WriteSummaryJSON replaces path with the JSON rendering of sum.
func WriteSummaryJSON(path string, sum *filter.Summary) error {
	b, err := MarshalSummary(sum)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	rep, err := file.NewReplacement(path)
	if err != nil {
		return err
	}
	if _, err := rep.Write(append(b, '\n')); err != nil {
		rep.Abort()
		return fmt.Errorf("write summary %s: %w", path, err)
	}
	return rep.Commit()
}
