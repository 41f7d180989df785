// Package csv reads and rewrites the dataset's delimited tables.
//
// Field values are handed back exactly as encoding/csv decoded them and are
// written out unchanged, so a filtered file differs from its source only in
// the rows it drops. Bytes are not checked for valid UTF-8; Latin-1 or other
// stray bytes survive a rewrite.
//
// Two normalizations come from encoding/csv and are kept deliberately:
// quoting is reduced to the minimal form the writer emits, and every "\r\n"
// becomes "\n", including one inside a quoted field ("a\r\nb" is written
// back as "a\nb").
//
// A UTF-8 byte order mark on the header line is stripped on read (so the first
// column name matches) and reported via HasBOM so writers can restore it.
package csv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"bdbfilter/internal/datasource"
	"bdbfilter/internal/datasource/file"
)

// ErrEmpty is returned when a file has no header record.
var ErrEmpty = errors.New("empty file: no header row")

// maxPrealloc caps how many record slots ReadBatch reserves up front.
const maxPrealloc = 1 << 16

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Options tunes the underlying encoding/csv reader and writer.
type Options struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// LazyQuotes relaxes quote handling (csv.Reader.LazyQuotes).
	LazyQuotes bool
}

func (o Options) comma() rune {
	if o.Comma == 0 {
		return ','
	}
	return o.Comma
}

// Reader yields the records of one table after its header.
//
// Every data record must have as many fields as the header; a mismatch is
// returned as an error wrapping csv.ErrFieldCount. Returned records are never
// reused by the Reader, so batches may be retained by the caller.
type Reader struct {
	rc      io.ReadCloser
	cr      *csv.Reader
	header  []string
	bom     bool
	records int64
}

// Open opens path and consumes its header record.
func Open(ctx context.Context, path string, opt Options) (*Reader, error) {
	return OpenSource(ctx, file.NewLocal(path), opt)
}

// OpenSource opens src and consumes its header record. Header errors are
// prefixed with the source path when src has one.
func OpenSource(ctx context.Context, src datasource.Source, opt Options) (*Reader, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(rc, opt)
	if err != nil {
		_ = rc.Close()
		if p, ok := src.(interface{ Path() string }); ok {
			return nil, fmt.Errorf("%s: %w", p.Path(), err)
		}
		return nil, err
	}
	return r, nil
}

// NewReader wraps rc and reads the header. On success the Reader owns rc and
// closes it in Close; on error the caller still owns rc.
func NewReader(rc io.ReadCloser, opt Options) (*Reader, error) {
	br := bufio.NewReaderSize(rc, 64*1024)

	var src io.Reader = br
	bom := false
	if p, _ := br.Peek(len(utf8BOM)); bytes.Equal(p, utf8BOM) {
		bom = true
		// BOMOverride drops the mark; transform.Nop passes the body through
		// without UTF-8 validation.
		src = transform.NewReader(br, unicode.BOMOverride(transform.Nop))
	}

	cr := csv.NewReader(src)
	cr.Comma = opt.comma()
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = 0 // width fixed by the header

	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	return &Reader{rc: rc, cr: cr, header: hdr, bom: bom}, nil
}

// ReadHeader returns only the header record of path. The body is never read.
func ReadHeader(ctx context.Context, path string, opt Options) ([]string, error) {
	r, err := Open(ctx, path, opt)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Header(), nil
}

// Header returns the column names in file order.
func (r *Reader) Header() []string { return r.header }

// HasBOM reports whether the file started with a UTF-8 byte order mark.
func (r *Reader) HasBOM() bool { return r.bom }

// Records returns how many data records have been read so far.
func (r *Reader) Records() int64 { return r.records }

// Read returns the next data record or io.EOF.
func (r *Reader) Read() ([]string, error) {
	rec, err := r.cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record %d: %w", r.records+1, err)
	}
	r.records++
	return rec, nil
}

// ReadBatch returns up to n records. It returns io.EOF only when no records
// remain; a short final batch is returned with a nil error.
func (r *Reader) ReadBatch(n int) ([][]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", n)
	}
	batch := make([][]string, 0, min(n, maxPrealloc))
	for len(batch) < n {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, rec)
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// ReadAll returns every remaining record.
func (r *Reader) ReadAll() ([][]string, error) {
	var all [][]string
	for {
		batch, err := r.ReadBatch(maxPrealloc)
		if errors.Is(err, io.EOF) {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.rc.Close() }
