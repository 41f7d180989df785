// Command bdbfilter trims a Big Data Bowl dataset to special-teams plays.
//
// It validates that every table file exists with its required columns, then
// rewrites plays.csv keeping only the configured play types and drops every
// row of the scouting and tracking tables that belongs to a removed play.
//
// Usage:
//
//	bdbfilter -config bdbfilter.yaml
//	bdbfilter -base-dir ./nfl-big-data-bowl-2022 -validate
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"bdbfilter/internal/config"
	"bdbfilter/internal/filter"
	"bdbfilter/internal/logging"
	"bdbfilter/internal/metrics"
	"bdbfilter/internal/metrics/datadog"
	"bdbfilter/internal/metrics/prompush"
	"bdbfilter/internal/report"

	// register all ledger backends with the storage factory.
	_ "bdbfilter/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("bdbfilter", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        = fs.String("config", "", "YAML or JSON config file (optional)")
		envFile        = fs.String("env-file", config.DefaultEnvFile, "dotenv file with BDB_* overrides (ignored when absent)")
		validateOnly   = fs.Bool("validate", false, "check files and columns, then exit without modifying anything")
		baseDir        = fs.String("base-dir", "", "dataset directory (overrides dataset.base_dir)")
		chunkSize      = fs.Int("chunk-size", 0, "rows per tracking chunk (overrides filter.chunk_size)")
		logLevel       = fs.String("log-level", "", "log level (overrides logging.level)")
		logFormat      = fs.String("log-format", "", "json or console (overrides logging.format)")
		metricsBackend = fs.String("metrics-backend", "", "none, pushgateway or datadog (overrides metrics.backend)")
		pushGatewayURL = fs.String("pushgateway-url", "", "Pushgateway base URL (overrides metrics.pushgateway_url)")
		datadogAddr    = fs.String("datadog-addr", "", "DogStatsD address (overrides metrics.datadog_addr)")
		summaryPath    = fs.String("summary", "", "write the run summary as JSON to this path")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(*cfgPath, *envFile)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	// explicit flags win over file and environment
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base-dir":
			cfg.Dataset.BaseDir = *baseDir
		case "chunk-size":
			cfg.Filter.ChunkSize = *chunkSize
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "log-format":
			cfg.Logging.Format = *logFormat
		case "metrics-backend":
			cfg.Metrics.Backend = *metricsBackend
		case "pushgateway-url":
			cfg.Metrics.PushgatewayURL = *pushGatewayURL
		case "datadog-addr":
			cfg.Metrics.DatadogAddr = *datadogAddr
		case "summary":
			cfg.Report.SummaryPath = *summaryPath
		}
	})

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(stderr, "configuration is invalid")
		return 1
	}

	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: stderr,
	}).With().Str("job", cfg.Job).Logger()

	p := filter.New(cfg, log)

	if *validateOnly {
		if rep := p.Validate(ctx); !rep.OK {
			return 1
		}
		return 0
	}

	if flush := setupMetrics(cfg, log); flush != nil {
		defer flush()
	}

	sum, err := p.Run(ctx)
	// an interrupted run is still reported
	writeReports(context.WithoutCancel(ctx), cfg, log, sum)

	switch {
	case err == nil:
		return 0
	case errors.Is(err, filter.ErrValidation):
		log.Error().Err(err).Msg("validation failed; no files were modified")
		return 1
	case errors.Is(err, context.Canceled):
		log.Warn().Msg("interrupted")
		return 130
	default:
		log.Error().Err(err).Msg("run aborted")
		return 1
	}
}

// setupMetrics installs the configured backend and returns its flush
// function, or nil when metrics are disabled or the backend failed to start.
func setupMetrics(cfg config.Config, log zerolog.Logger) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch cfg.Metrics.Backend {
	case "pushgateway":
		b, err = prompush.NewBackend(cfg.Job, cfg.Metrics.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       cfg.Metrics.DatadogAddr,
			Namespace:  cfg.Metrics.Namespace,
			GlobalTags: cfg.Metrics.Tags,
		})
	default:
		log.Debug().Str("backend", cfg.Metrics.Backend).Msg("metrics disabled")
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Str("backend", cfg.Metrics.Backend).Msg("metrics backend unavailable; using nop")
		return nil
	}

	log.Info().Str("backend", cfg.Metrics.Backend).Msg("metrics enabled")
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn().Err(err).Msg("metrics flush failed")
		}
	}
}

// writeReports persists the summary file and ledger. Failures are logged
// and never change the exit code.
func writeReports(ctx context.Context, cfg config.Config, log zerolog.Logger, sum *filter.Summary) {
	if sum == nil {
		return
	}
	if path := cfg.Report.SummaryPath; path != "" {
		if err := report.WriteSummaryJSON(path, sum); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("summary not written")
		} else {
			log.Info().Str("path", path).Msg("summary written")
		}
	}
	if err := report.NewLedger(cfg.Report, log).Record(ctx, sum); err != nil {
		log.Warn().Err(err).Msg("run ledger not updated")
	}
}
