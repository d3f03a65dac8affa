package storage

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	gddl "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/ddl"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/etlerr"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/pkg/records"
)

// Logical column kinds handed to a backend's type mapper.
const (
	KindInt  = "int"
	KindReal = "real"
	KindText = "text"
)

// IdentRule is a backend-specific constraint on a single identifier.
type IdentRule func(string) error

// MaxRunes rejects identifiers longer than n characters.
func MaxRunes(n int) IdentRule {
	return func(s string) error {
		if l := utf8.RuneCountInString(s); l > n {
			return fmt.Errorf("identifier %q is %d characters, limit is %d", s, l, n)
		}
		return nil
	}
}

// MaxBytes rejects identifiers longer than n bytes.
func MaxBytes(n int) IdentRule {
	return func(s string) error {
		if len(s) > n {
			return fmt.Errorf("identifier %q is %d bytes, limit is %d", s, len(s), n)
		}
		return nil
	}
}

// NoTrailingSpace rejects identifiers ending in a space.
func NoTrailingSpace(s string) error {
	if strings.HasSuffix(s, " ") {
		return fmt.Errorf("identifier %q ends with a space", s)
	}
	return nil
}

// ValidateIdentifiers checks the table name and column names before any SQL
// is built. Names must be non-empty, valid UTF-8 and free of control
// characters, and must pass every rule; column names must also be unique
// ignoring case, since most stores fold identifier case.
func ValidateIdentifiers(table string, columns []string, rules ...IdentRule) error {
	const op = "storage: validate identifiers"
	if err := checkIdent(table, rules); err != nil {
		return &etlerr.Error{Kind: etlerr.KindSchema, Op: op, Path: table, Err: fmt.Errorf("table name: %w", err)}
	}
	if len(columns) == 0 {
		return &etlerr.Error{Kind: etlerr.KindSchema, Op: op, Path: table, Err: fmt.Errorf("table has no columns")}
	}
	seen := make(map[string]string, len(columns))
	for _, c := range columns {
		if err := checkIdent(c, rules); err != nil {
			return &etlerr.Error{Kind: etlerr.KindSchema, Op: op, Path: table, Column: c, Err: err}
		}
		folded := strings.ToLower(c)
		if prev, dup := seen[folded]; dup {
			return &etlerr.Error{Kind: etlerr.KindSchema, Op: op, Path: table, Column: c,
				Err: fmt.Errorf("column name clashes with %q", prev)}
		}
		seen[folded] = c
	}
	return nil
}

func checkIdent(s string, rules []IdentRule) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("identifier is empty")
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("identifier is not valid UTF-8")
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return fmt.Errorf("identifier %q contains a control character", s)
		}
	}
	for _, rule := range rules {
		if err := rule(s); err != nil {
			return err
		}
	}
	return nil
}

// InferKinds returns the logical kind of every column: KindInt when every
// non-nil value is an integer, KindReal when they are all numeric, otherwise
// KindText. A column with no values is KindText.
func InferKinds(t *records.Table) []string {
	kinds := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		kinds[i] = inferKind(t.Rows, c)
	}
	return kinds
}

func inferKind(rows []records.Record, col string) string {
	kind := ""
	for _, r := range rows {
		switch r[col].(type) {
		case nil:
			continue
		case int64, int:
			if kind == "" {
				kind = KindInt
			}
		case float64:
			kind = KindReal
		default:
			return KindText
		}
	}
	if kind == "" {
		return KindText
	}
	return kind
}

// TableDef builds the table definition for t, mapping each logical kind with
// mapType. Every column is nullable.
func TableDef(name string, t *records.Table, mapType func(string) string) (gddl.TableDef, []string) {
	kinds := InferKinds(t)
	def := gddl.TableDef{FQN: name, Columns: make([]gddl.ColumnDef, len(t.Columns))}
	for i, c := range t.Columns {
		def.Columns[i] = gddl.ColumnDef{Name: c, SQLType: mapType(kinds[i]), Nullable: true}
	}
	return def, kinds
}

// RowValues returns t's rows as positional slices with each value converted
// to its column's kind, so strongly typed stores accept them.
func RowValues(t *records.Table, kinds []string) [][]any {
	out := make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]any, len(t.Columns))
		for j, c := range t.Columns {
			row[j] = convert(r[c], kinds[j])
		}
		out[i] = row
	}
	return out
}

func convert(v any, kind string) any {
	if v == nil {
		return nil
	}
	switch kind {
	case KindInt:
		if n, ok := v.(int); ok {
			return int64(n)
		}
	case KindReal:
		switch n := v.(type) {
		case int64:
			return float64(n)
		case int:
			return float64(n)
		}
	case KindText:
		switch s := v.(type) {
		case string:
			return s
		case int64:
			return strconv.FormatInt(s, 10)
		case float64:
			return strconv.FormatFloat(s, 'g', -1, 64)
		default:
			return fmt.Sprint(s)
		}
	}
	return v
}
