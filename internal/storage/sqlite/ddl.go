package sqlite

import (
	"context"
	"fmt"
	"strings"

	"bdbfilter/internal/storage"
)

func sqlType(t storage.ColumnType) string {
	switch t {
	case storage.TypeBigInt:
		return "INTEGER"
	case storage.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// CreateTableSQL renders CREATE TABLE IF NOT EXISTS for td.
func CreateTableSQL(td storage.Table) (string, error) {
	if td.Name == "" {
		return "", fmt.Errorf("sqlite: table name must not be empty")
	}
	if len(td.Columns) == 0 {
		return "", fmt.Errorf("sqlite: table %s has no columns", td.Name)
	}
	defs := make([]string, len(td.Columns))
	for i, c := range td.Columns {
		def := quoteIdent(c.Name) + " " + sqlType(c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", quoteFQN(td.Name), strings.Join(defs, ",\n  ")), nil
}

// EnsureTable creates td when missing.
func EnsureTable(ctx context.Context, repo storage.Repository, td storage.Table) error {
	stmt, err := CreateTableSQL(td)
	if err != nil {
		return err
	}
	return repo.Exec(ctx, stmt)
}
