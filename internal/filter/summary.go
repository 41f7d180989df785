package filter

import (
	"fmt"
	"time"

	"bdbfilter/internal/config"
	"bdbfilter/internal/keys"
	"bdbfilter/internal/schema"
)

// FileStatus is the outcome of filtering one table.
type FileStatus string

const (
	StatusOK     FileStatus = "ok"
	StatusFailed FileStatus = "failed"
	StatusAbsent FileStatus = "absent"
)

// FileResult reports one table. Counts are rows, excluding the header.
type FileResult struct {
	Table  string      `json:"table"`
	Role   config.Role `json:"role"`
	Path   string      `json:"path"`
	Status FileStatus  `json:"status"`

	Original int64 `json:"original_rows"`
	Retained int64 `json:"retained_rows"`
	Removed  int64 `json:"removed_rows"`
	Unkeyed  int64 `json:"unkeyed_rows"`
	Chunks   int64 `json:"chunks"`

	Elapsed time.Duration `json:"elapsed_ns"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
	// Stack is set when the failure was a recovered panic.
	Stack string `json:"stack,omitempty"`
}

func (r *FileResult) apply(st TableStats) {
	r.Original = st.Original
	r.Retained = st.Retained
	r.Removed = st.Removed
	r.Chunks = st.Chunks
}

// Summary is the end-of-run report.
type Summary struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// RemovedKeys is the removed-key set cardinality; KeysetDigest its
	// order-independent xxh3 fingerprint in hex.
	RemovedKeys  int    `json:"removed_keys"`
	KeysetDigest string `json:"keyset_digest"`

	// Files lists plays first, then dependent tables in configured order.
	Files []FileResult `json:"files"`

	Validation *schema.Report `json:"-"`

	removed *keys.Set
}

// RemovedSet returns the removed-key set, or nil when the plays step did not
// complete.
func (s *Summary) RemovedSet() *keys.Set { return s.removed }

// Failed returns the files that did not complete.
func (s *Summary) Failed() []FileResult {
	var out []FileResult
	for _, f := range s.Files {
		if f.Status == StatusFailed {
			out = append(out, f)
		}
	}
	return out
}

// Totals sums counts over every file.
func (s *Summary) Totals() TableStats {
	var t TableStats
	for _, f := range s.Files {
		t.Original += f.Original
		t.Retained += f.Retained
		t.Removed += f.Removed
		t.Chunks += f.Chunks
	}
	return t
}

// PanicError is a panic recovered at a file boundary.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
