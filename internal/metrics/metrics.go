// Package metrics records operational metrics for a filter run through a
// small, backend-agnostic interface.
//
// A global backend defaults to a no-op, so instrumentation is always safe to
// call. Concrete systems (Prometheus Pushgateway, DataDog) live in
// subpackages and are installed with SetBackend at startup.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one run phase and observes its duration. Steps are
// "validate", "derive_keys" and "filter".
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter("bdb_step_total", 1, lbls)
	backend.ObserveHistogram("bdb_step_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments the row counter for one table.
//
// Kinds:
//   - "read"
//   - "retained"
//   - "removed"
//   - "unkeyed"
func RecordRows(job, table, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("bdb_rows_total", float64(delta), Labels{
		"job":   job,
		"table": table,
		"kind":  kind,
	})
}

// RecordChunks increments the chunk counter for one table.
func RecordChunks(job, table string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("bdb_chunks_total", float64(delta), Labels{
		"job":   job,
		"table": table,
	})
}

// RecordFile counts a finished table by outcome ("ok", "failed", "absent")
// and observes how long it took.
func RecordFile(job, table, status string, d time.Duration) {
	lbls := Labels{
		"job":    job,
		"table":  table,
		"status": status,
	}
	backend.IncCounter("bdb_files_total", 1, lbls)
	backend.ObserveHistogram("bdb_file_duration_seconds", d.Seconds(), lbls)
}

// TableCounts are the tallies of one finished table.
type TableCounts struct {
	Read     int64
	Retained int64
	Removed  int64
	Unkeyed  int64
	Chunks   int64
}

// RecordTable reports a finished table: its rows by kind, its chunks, and
// its outcome with duration. Zero counts emit nothing.
func RecordTable(job, table, status string, c TableCounts, d time.Duration) {
	RecordRows(job, table, "read", c.Read)
	RecordRows(job, table, "retained", c.Retained)
	RecordRows(job, table, "removed", c.Removed)
	RecordRows(job, table, "unkeyed", c.Unkeyed)
	RecordChunks(job, table, c.Chunks)
	RecordFile(job, table, status, d)
}
