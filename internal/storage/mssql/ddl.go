package mssql

import (
	"context"
	"fmt"
	"strings"

	"bdbfilter/internal/storage"
)

func sqlType(t storage.ColumnType) string {
	switch t {
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeTimestamp:
		return "DATETIMEOFFSET"
	default:
		return "NVARCHAR(MAX)"
	}
}

// CreateTableSQL renders a guarded CREATE TABLE for td. SQL Server has no
// CREATE TABLE IF NOT EXISTS, so the statement checks OBJECT_ID first.
func CreateTableSQL(td storage.Table) (string, error) {
	if td.Name == "" {
		return "", fmt.Errorf("mssql: table name must not be empty")
	}
	if len(td.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", td.Name)
	}
	defs := make([]string, len(td.Columns))
	for i, c := range td.Columns {
		null := " NOT NULL"
		if c.Nullable {
			null = " NULL"
		}
		defs[i] = msIdent(c.Name) + " " + sqlType(c.Type) + null
	}
	return fmt.Sprintf(
		"IF OBJECT_ID(%s, N'U') IS NULL\nCREATE TABLE %s (\n  %s\n);",
		sqlLiteral(td.Name), msFQN(td.Name), strings.Join(defs, ",\n  "),
	), nil
}

// EnsureTable creates td when missing.
func EnsureTable(ctx context.Context, repo storage.Repository, td storage.Table) error {
	stmt, err := CreateTableSQL(td)
	if err != nil {
		return err
	}
	return repo.Exec(ctx, stmt)
}
