// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// A filter run is a batch job with no long-lived HTTP server to scrape, so
// collected series are pushed to a Pushgateway on Flush. The Pushgateway
// "job" grouping key carries the run's job label.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"bdbfilter/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec // bdb_step_total{step,status}
	stepDuration *prometheus.SummaryVec // bdb_step_duration_seconds{step,status}

	rowCounter   *prometheus.CounterVec // bdb_rows_total{table,kind}
	chunkCounter *prometheus.CounterVec // bdb_chunks_total{table}

	fileCounter  *prometheus.CounterVec // bdb_files_total{table,status}
	fileDuration *prometheus.SummaryVec // bdb_file_duration_seconds{table,status}
}

var objectives = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name (usually the configured job).
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "bdbfilter"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bdb_step_total",
			Help: "Run phases executed, partitioned by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "bdb_step_duration_seconds",
			Help:       "Duration of run phases in seconds.",
			Objectives: objectives,
		}, []string{"step", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bdb_rows_total",
			Help: "Rows per table and kind (read, retained, removed, unkeyed).",
		}, []string{"table", "kind"}),
		chunkCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bdb_chunks_total",
			Help: "Chunks processed per table.",
		}, []string{"table"}),
		fileCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bdb_files_total",
			Help: "Tables finished, partitioned by outcome.",
		}, []string{"table", "status"}),
		fileDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "bdb_file_duration_seconds",
			Help:       "Time spent filtering one table.",
			Objectives: objectives,
		}, []string{"table", "status"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":  b.stepCounter,
		"step summary":  b.stepDuration,
		"row counter":   b.rowCounter,
		"chunk counter": b.chunkCounter,
		"file counter":  b.fileCounter,
		"file summary":  b.fileDuration,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "bdb_step_total":
		if b.stepCounter == nil {
			return
		}
		b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)

	case "bdb_rows_total":
		if b.rowCounter == nil {
			return
		}
		b.rowCounter.WithLabelValues(labels["table"], labels["kind"]).Add(delta)

	case "bdb_chunks_total":
		if b.chunkCounter == nil {
			return
		}
		b.chunkCounter.WithLabelValues(labels["table"]).Add(delta)

	case "bdb_files_total":
		if b.fileCounter == nil {
			return
		}
		b.fileCounter.WithLabelValues(labels["table"], labels["status"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case "bdb_step_duration_seconds":
		if b.stepDuration == nil {
			return
		}
		b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
	case "bdb_file_duration_seconds":
		if b.fileDuration == nil {
			return
		}
		b.fileDuration.WithLabelValues(labels["table"], labels["status"]).Observe(value)
	}
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
