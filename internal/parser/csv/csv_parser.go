// Package csv parses delimited text files with a header row into an
// in-memory records.Table. Parsing is strict: any malformed row aborts the
// parse with a line-numbered error rather than being skipped.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/etlerr"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/pkg/records"
)

// Options configures the CSV parser behavior. All fields are optional; sensible
// defaults are applied when a field is zero.
type Options struct {
	// Comma specifies the field delimiter. When zero, ',' is used.
	Comma rune

	// TrimSpace trims leading/trailing spaces from each field value.
	TrimSpace bool

	// InferTypes converts columns whose non-empty values are all integers to
	// int64, or all numeric to float64.
	InferTypes bool

	// TextColumns are never type-inferred.
	TextColumns []string
}

// Parser parses CSV input according to Options. It is safe to reuse across
// inputs, but Parser itself is not concurrency-safe.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser { return &Parser{opt: opt} }

// checkEvery controls how often Parse polls ctx for cancellation.
const checkEvery = 4096

// ParseFile opens path and parses it. A missing, unreadable or non-regular
// path yields a KindFileNotFound error.
func (p *Parser) ParseFile(ctx context.Context, path string) (*records.Table, error) {
	const op = "csv: open"
	st, err := os.Stat(path)
	if err != nil {
		return nil, &etlerr.Error{Kind: etlerr.KindFileNotFound, Op: op, Path: path, Err: err}
	}
	if st.IsDir() {
		return nil, &etlerr.Error{Kind: etlerr.KindFileNotFound, Op: op, Path: path, Err: fmt.Errorf("is a directory")}
	}
	f, err := os.Open(path)
	if err != nil {
		kind := etlerr.KindIO
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			kind = etlerr.KindFileNotFound
		}
		return nil, &etlerr.Error{Kind: kind, Op: op, Path: path, Err: err}
	}
	defer f.Close()

	t, err := p.Parse(ctx, f)
	if err != nil {
		var e *etlerr.Error
		if errors.As(err, &e) && e.Path == "" {
			e.Path = path
		}
		return nil, err
	}
	return t, nil
}

// Parse consumes CSV records from r and returns them as a table. The first
// record is the header. A UTF-8 byte order mark is dropped before parsing.
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*records.Table, error) {
	const op = "csv: parse"

	// BOMOverride strips a leading UTF-8 BOM and passes everything else
	// through the UTF-8 decoder unchanged.
	r = transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(r)
	if p.opt.Comma != 0 {
		cr.Comma = p.opt.Comma
	}

	h, err := cr.Read()
	if err == io.EOF {
		return nil, &etlerr.Error{Kind: etlerr.KindParse, Op: op, Line: 1, Err: errors.New("empty input: missing header row")}
	}
	if err != nil {
		return nil, parseErr(op, err)
	}
	headers, err := normalizeHeaders(h)
	if err != nil {
		return nil, err
	}

	t := records.NewTable(headers...)
	for n := 0; ; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, parseErr(op, err)
		}

		rec := make(records.Record, len(row))
		for i, val := range row {
			if p.opt.TrimSpace {
				val = strings.TrimSpace(val)
			}
			rec[headers[i]] = emptyToNil(val)
		}
		t.Rows = append(t.Rows, rec)
	}

	if p.opt.InferTypes {
		inferColumnTypes(t, p.opt.TextColumns)
	}
	return t, nil
}

// parseErr lifts the line number out of an encoding/csv error.
func parseErr(op string, err error) error {
	e := &etlerr.Error{Kind: etlerr.KindParse, Op: op, Err: err}
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		e.Line = pe.Line
		e.Err = pe.Err
	}
	return e
}

// emptyToNil converts an empty string to nil; all other values are returned as-is.
func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// normalizeHeaders trims and NFC-normalizes header cells. An empty cell is
// named "Unnamed: N" after its zero-based position. Repeated names are schema
// errors because rows are keyed by column name.
func normalizeHeaders(h []string) ([]string, error) {
	res := make([]string, len(h))
	seen := make(map[string]int, len(h))
	for i, col := range h {
		c := norm.NFC.String(strings.TrimSpace(col))
		if c == "" {
			c = fmt.Sprintf("Unnamed: %d", i)
		}
		if prev, dup := seen[c]; dup {
			return nil, &etlerr.Error{Kind: etlerr.KindSchema, Op: "csv: header", Line: 1, Column: c,
				Err: fmt.Errorf("duplicate column name (positions %d and %d)", prev+1, i+1)}
		}
		seen[c] = i
		res[i] = c
	}
	return res, nil
}

// inferColumnTypes rewrites string cells to int64 or float64 when every
// non-empty value in the column parses as such.
func inferColumnTypes(t *records.Table, text []string) {
	skip := make(map[string]struct{}, len(text))
	for _, c := range text {
		skip[c] = struct{}{}
	}
	for _, col := range t.Columns {
		if _, ok := skip[col]; ok {
			continue
		}
		switch columnKind(t.Rows, col) {
		case kindInt:
			for _, r := range t.Rows {
				if s, ok := r[col].(string); ok {
					n, _ := strconv.ParseInt(s, 10, 64)
					r[col] = n
				}
			}
		case kindFloat:
			for _, r := range t.Rows {
				if s, ok := r[col].(string); ok {
					f, _ := strconv.ParseFloat(s, 64)
					r[col] = f
				}
			}
		}
	}
}

type valueKind int

const (
	kindText valueKind = iota
	kindInt
	kindFloat
)

func columnKind(rows []records.Record, col string) valueKind {
	kind := kindInt
	seen := false
	for _, r := range rows {
		s, ok := r[col].(string)
		if !ok {
			continue
		}
		seen = true
		if kind == kindInt {
			if _, err := strconv.ParseInt(s, 10, 64); err == nil {
				continue
			}
			kind = kindFloat
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return kindText
		}
	}
	if !seen {
		return kindText
	}
	return kind
}
