package csv

import (
	"encoding/csv"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Writer encodes records with the same delimiter the table was read with.
type Writer struct {
	cw  *csv.Writer
	enc io.WriteCloser // BOM encoder, nil when bom=false
}

// NewWriter returns a Writer on w. When bom is true the output starts with a
// UTF-8 byte order mark. Close must be called to flush; it does not close w.
func NewWriter(w io.Writer, opt Options, bom bool) *Writer {
	out := w
	var enc io.WriteCloser
	if bom {
		enc = transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
		out = enc
	}
	cw := csv.NewWriter(out)
	cw.Comma = opt.comma()
	return &Writer{cw: cw, enc: enc}
}

// Write encodes one record.
func (w *Writer) Write(rec []string) error {
	if err := w.cw.Write(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// WriteRows encodes rows in order.
func (w *Writer) WriteRows(rows [][]string) error {
	for _, rec := range rows {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes buffered output.
func (w *Writer) Close() error {
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if w.enc != nil {
		if err := w.enc.Close(); err != nil {
			return fmt.Errorf("flush bom encoder: %w", err)
		}
	}
	return nil
}
