// Package config defines the configuration model for the special-teams
// filter: which dataset files exist, what each must contain, how plays are
// retained, and where logs, metrics and run reports go.
//
// Values are layered by Load: built-in defaults (Default), an optional YAML
// or JSON file, a .env file, then BDB_* environment variables.
//
// Example (trimmed):
//
//	dataset:
//	  base_dir: ./nfl-big-data-bowl-2022
//	  tables:
//	    - { name: plays, file: plays.csv, role: plays,
//	        required: [gameId, playId, specialTeamsPlayType] }
//	    - { name: tracking2018, file: tracking2018.csv, role: tracking,
//	        required: [gameId, playId] }
//	filter:
//	  retain_column: specialTeamsPlayType
//	  retain_values: [Kickoff, Punt]
//	  chunk_size: 100000
package config

import (
	"path/filepath"
	"unicode/utf8"
)

// Role says how a table takes part in filtering.
type Role string

const (
	// RolePlays is the table the removed-key set is derived from.
	RolePlays Role = "plays"
	// RoleScouting is a small dependent table filtered in memory.
	RoleScouting Role = "scouting"
	// RoleTracking is a large dependent table filtered in chunks.
	RoleTracking Role = "tracking"
)

// Config is the top-level configuration.
type Config struct {
	// Job labels metrics, logs and run ledger rows.
	Job string `koanf:"job" validate:"required"`

	Dataset Dataset `koanf:"dataset"`
	Filter  Filter  `koanf:"filter"`
	CSV     CSV     `koanf:"csv"`
	Logging Logging `koanf:"logging"`
	Metrics Metrics `koanf:"metrics"`
	Report  Report  `koanf:"report"`
}

// Dataset locates the table files.
type Dataset struct {
	// BaseDir is the directory holding every table file.
	BaseDir string `koanf:"base_dir" validate:"required"`

	// Tables lists the files in processing order. Exactly one must have role
	// "plays"; it is always processed first.
	Tables []Table `koanf:"tables" validate:"required,min=1,dive"`
}

// Table describes one dataset file.
type Table struct {
	Name     string   `koanf:"name" validate:"required"`
	File     string   `koanf:"file" validate:"required"`
	Role     Role     `koanf:"role" validate:"required,oneof=plays scouting tracking"`
	Required []string `koanf:"required" validate:"dive,required"`

	// Optional tables may be absent without failing validation.
	Optional bool `koanf:"optional"`
}

// Path joins the table file onto baseDir. Absolute file paths are kept.
func (t Table) Path(baseDir string) string {
	if filepath.IsAbs(t.File) {
		return t.File
	}
	return filepath.Join(baseDir, t.File)
}

// Filter holds the retention predicate and processing knobs.
type Filter struct {
	// RetainColumn is the plays column tested against RetainValues.
	RetainColumn string `koanf:"retain_column" validate:"required"`

	// RetainValues is the allow-list; matching is exact and case-sensitive.
	RetainValues []string `koanf:"retain_values" validate:"required,min=1,dive,required"`

	// KeyColumns names the game and play id columns, in that order.
	KeyColumns []string `koanf:"key_columns" validate:"len=2,dive,required"`

	// ChunkSize is the number of rows per batch for tracking tables.
	ChunkSize int `koanf:"chunk_size" validate:"gt=0"`

	// AtomicWrite writes each table to a temporary sibling and renames it
	// into place. When false the retained rows are buffered and the original
	// file is truncated and rewritten.
	AtomicWrite bool `koanf:"atomic_write"`

	// ProgressEvery logs a heartbeat every N chunks; 0 disables it.
	ProgressEvery int `koanf:"progress_every" validate:"gte=0"`

	// SampleRows is how many plays rows the validator inspects for retain
	// values; 0 disables the check.
	SampleRows int `koanf:"sample_rows" validate:"gte=0"`
}

// GameColumn returns the game id column name.
func (f Filter) GameColumn() string { return f.KeyColumns[0] }

// PlayColumn returns the play id column name.
func (f Filter) PlayColumn() string { return f.KeyColumns[1] }

// CSV configures the delimited-text dialect.
type CSV struct {
	// Comma is the one-character field delimiter.
	Comma      string `koanf:"comma"`
	LazyQuotes bool   `koanf:"lazy_quotes"`
}

// CommaRune returns the delimiter, defaulting to ','.
func (c CSV) CommaRune() rune {
	if c.Comma == "" {
		return ','
	}
	r, _ := utf8.DecodeRuneInString(c.Comma)
	return r
}

// Logging configures the zerolog logger.
type Logging struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	Backend        string   `koanf:"backend" validate:"omitempty,oneof=none pushgateway datadog"`
	PushgatewayURL string   `koanf:"pushgateway_url"`
	DatadogAddr    string   `koanf:"datadog_addr"`
	Namespace      string   `koanf:"namespace"`
	Tags           []string `koanf:"tags"`
}

// Report configures the optional run ledger and summary file.
type Report struct {
	// Kind selects the ledger backend: none, sqlite, postgres, mssql or mysql.
	Kind  string `koanf:"kind" validate:"omitempty,oneof=none sqlite postgres mssql mysql"`
	DSN   string `koanf:"dsn"`
	Table string `koanf:"table"`

	// KeysTable receives the removed-key set, one row per key. Empty skips it.
	KeysTable string `koanf:"keys_table"`
	// BatchSize is the number of key rows per bulk insert.
	BatchSize int `koanf:"batch_size" validate:"gte=0"`

	// SummaryPath, when set, receives the run summary as JSON.
	SummaryPath string `koanf:"summary_path"`
}

// Default returns the configuration for the 2022 Big Data Bowl layout.
func Default() Config {
	keyCols := []string{"gameId", "playId"}
	return Config{
		Job: "bdb_special_teams_filter",
		Dataset: Dataset{
			BaseDir: "nfl-big-data-bowl-2022",
			Tables: []Table{
				{Name: "plays", File: "plays.csv", Role: RolePlays, Required: []string{"gameId", "playId", "specialTeamsPlayType"}},
				{Name: "scouting", File: "PFFScoutingData.csv", Role: RoleScouting, Required: keyCols},
				{Name: "tracking2018", File: "tracking2018.csv", Role: RoleTracking, Required: keyCols},
				{Name: "tracking2019", File: "tracking2019.csv", Role: RoleTracking, Required: keyCols},
				{Name: "tracking2020", File: "tracking2020.csv", Role: RoleTracking, Required: keyCols},
			},
		},
		Filter: Filter{
			RetainColumn:  "specialTeamsPlayType",
			RetainValues:  []string{"Kickoff", "Punt"},
			KeyColumns:    keyCols,
			ChunkSize:     100_000,
			AtomicWrite:   true,
			ProgressEvery: 10,
			SampleRows:    1000,
		},
		CSV: CSV{Comma: ","},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
		Metrics: Metrics{
			Backend:        "none",
			PushgatewayURL: "http://localhost:9091",
			DatadogAddr:    "127.0.0.1:8125",
			Namespace:      "bdb.",
		},
		Report: Report{
			Kind:      "none",
			Table:     "filter_runs",
			KeysTable: "filter_removed_keys",
			BatchSize: 5000,
		},
	}
}

// PlaysTable returns the first table with role plays.
func (c Config) PlaysTable() (Table, bool) {
	for _, t := range c.Dataset.Tables {
		if t.Role == RolePlays {
			return t, true
		}
	}
	return Table{}, false
}
