// Package storage contains the backend-agnostic contract for the run ledger
// and a registry of SQL backends.
//
// Backends register a Factory and a DDLBootstrapper for their kind in init;
// callers import storage/all for side effects and then open a Repository with
// New without naming the backend package.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Repository is the minimal write surface every backend provides.
type Repository interface {
	// CopyFrom bulk-inserts rows (aligned to columns) into the configured
	// table and returns the number of rows inserted.
	CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error)
	// Exec runs a statement, typically DDL.
	Exec(ctx context.Context, sql string) error
	// Close releases the connection.
	Close()
}

// Config selects and configures a backend.
type Config struct {
	// Kind is the registered backend name: sqlite, postgres, mssql or mysql.
	Kind string
	// DSN is passed to the driver unchanged.
	DSN string
	// Table is the destination table, optionally schema-qualified.
	Table string
	// Columns is the ordered list of destination columns.
	Columns []string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the Factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: no backend registered for kind %q (have %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend names in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
