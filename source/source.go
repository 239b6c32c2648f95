// Package source reads raw lookup-table records from common file formats
// and databases, as streams suitable for refstore.Build.
//
// All readers are single-pass and hold one record at a time.
package source

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/andreyvit/refstore"
)

// OpenFile opens path for reading, transparently gunzipping .gz files.
func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &gzipFile{zr, f}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	err := g.Reader.Close()
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	return err
}

type TSVOptions struct {
	// Comma is the field separator; defaults to a tab.
	Comma rune
	// SkipHeader drops the first line.
	SkipHeader bool
}

// TSV reads key<TAB>value lines, such as gazetteer entries. Lines starting
// with '#' are comments. Extra columns are an error.
func TSV(r io.Reader, opt TSVOptions) iter.Seq2[refstore.Record, error] {
	return func(yield func(refstore.Record, error) bool) {
		cr := csv.NewReader(r)
		cr.Comma = opt.Comma
		if cr.Comma == 0 {
			cr.Comma = '\t'
		}
		cr.Comment = '#'
		cr.FieldsPerRecord = 2
		cr.LazyQuotes = true
		cr.ReuseRecord = true
		first := true
		for {
			row, err := cr.Read()
			if err == io.EOF {
				return
			} else if err != nil {
				yield(refstore.Record{}, err)
				return
			}
			if first && opt.SkipHeader {
				first = false
				continue
			}
			first = false
			if !yield(refstore.StringRecord(row[0], row[1]), nil) {
				return
			}
		}
	}
}

// WordVectors reads GloVe or word2vec text files: one "word f1 ... fd" line
// per entry, optionally preceded by a "count dim" header. Every vector must
// have dim elements.
func WordVectors(r io.Reader, dim int) iter.Seq2[refstore.Record, error] {
	return func(yield func(refstore.Record, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		vec := make([]float32, dim)
		var lineNo int
		for sc.Scan() {
			lineNo++
			line := strings.TrimRight(sc.Text(), " \r")
			if line == "" {
				continue
			}
			fields := strings.Fields(line)
			if lineNo == 1 && len(fields) == 2 && isHeader(fields, dim) {
				continue
			}
			if len(fields) != dim+1 {
				yield(refstore.Record{}, fmt.Errorf("line %d: %d values, wanted %d", lineNo, len(fields)-1, dim))
				return
			}
			for i, s := range fields[1:] {
				f, err := strconv.ParseFloat(s, 32)
				if err != nil {
					yield(refstore.Record{}, fmt.Errorf("line %d: %w", lineNo, err))
					return
				}
				vec[i] = float32(f)
			}
			if !yield(refstore.VectorRecord(fields[0], vec), nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(refstore.Record{}, err)
		}
	}
}

func isHeader(fields []string, dim int) bool {
	_, err1 := strconv.Atoi(fields[0])
	d, err2 := strconv.Atoi(fields[1])
	return err1 == nil && err2 == nil && d == dim
}

// SQL streams a two-column (key, value) result set. NULL values are
// errors.
func SQL(ctx context.Context, db *sql.DB, query string, args ...any) iter.Seq2[refstore.Record, error] {
	return func(yield func(refstore.Record, error) bool) {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(refstore.Record{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var value sql.RawBytes
			if err := rows.Scan(&key, &value); err != nil {
				yield(refstore.Record{}, err)
				return
			}
			if value == nil {
				yield(refstore.Record{}, errors.New("NULL value for key "+strconv.Quote(key)))
				return
			}
			if !yield(refstore.Record{Key: key, Value: append([]byte(nil), value...)}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(refstore.Record{}, err)
		}
	}
}
