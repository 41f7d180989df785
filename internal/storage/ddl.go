package storage

import (
	"context"
	"fmt"
	"sync"
)

// ColumnType is a backend-neutral column type.
type ColumnType int

const (
	// TypeText holds arbitrary strings.
	TypeText ColumnType = iota
	// TypeBigInt holds 64-bit integers.
	TypeBigInt
	// TypeTimestamp holds a point in time with zone.
	TypeTimestamp
)

func (t ColumnType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeBigInt:
		return "bigint"
	case TypeTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Column describes one destination column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Table is a destination table definition.
type Table struct {
	Name    string
	Columns []Column
}

// ColumnNames returns the column names in order.
func (t Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// DDLBootstrapper creates td through repo when it does not already exist.
type DDLBootstrapper func(ctx context.Context, repo Repository, td Table) error

var (
	ddlMu  sync.RWMutex
	ddlFns = map[string]DDLBootstrapper{}
)

// RegisterDDL registers (or replaces) the DDLBootstrapper for kind.
func RegisterDDL(kind string, fn DDLBootstrapper) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	ddlFns[kind] = fn
}

// EnsureTable runs the DDLBootstrapper registered for kind.
func EnsureTable(ctx context.Context, kind string, repo Repository, td Table) error {
	ddlMu.RLock()
	fn, ok := ddlFns[kind]
	ddlMu.RUnlock()
	if !ok {
		return fmt.Errorf("storage: no DDL bootstrapper registered for kind %q", kind)
	}
	return fn(ctx, repo, td)
}
