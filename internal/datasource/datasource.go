// Package datasource defines where table bytes come from. The filter only
// reads local files (see package file), but the CSV reader accepts any
// Source so tests and tools can feed it from memory.
package datasource

import (
	"context"
	"io"
)

// Source opens a table for reading. Callers close the returned reader.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}
