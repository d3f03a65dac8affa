// Package builtin contains the transformers used by the cleaning stage.
//
// ExpandCategories reshapes a single delimited "categories" field into one
// integer column per category. The category names come from the first row
// and form an explicit CategorySchema; every other row is checked against
// it so a malformed row fails instead of silently shifting columns.
package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/etlerr"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/pkg/records"
)

const (
	// DefaultCategoriesColumn is the field expanded when none is configured.
	DefaultCategoriesColumn = "categories"
	// DefaultCategoriesDelimiter separates tokens inside the field.
	DefaultCategoriesDelimiter = ";"
)

const opExpand = "cleaner: expand categories"

// CategorySchema is the ordered list of category names derived from one
// encoded value. A token "aid_related-1" contributes the name "aid_related":
// the token minus its trailing two characters.
type CategorySchema struct {
	Names     []string
	Delimiter string
}

// DeriveSchema splits value on delim and strips the trailing separator and
// digit from each token.
func DeriveSchema(value, delim string) (CategorySchema, error) {
	toks := strings.Split(value, delim)
	names := make([]string, len(toks))
	seen := make(map[string]struct{}, len(toks))
	for i, tok := range toks {
		r := []rune(tok)
		if len(r) < 2 {
			return CategorySchema{}, etlerr.New(etlerr.KindParse, opExpand,
				"token %d %q is too short to carry a name and value", i+1, tok)
		}
		name := string(r[:len(r)-2])
		if name == "" {
			return CategorySchema{}, etlerr.New(etlerr.KindSchema, opExpand,
				"token %d %q yields an empty category name", i+1, tok)
		}
		if _, dup := seen[name]; dup {
			return CategorySchema{}, &etlerr.Error{Kind: etlerr.KindSchema, Op: opExpand, Column: name,
				Err: fmt.Errorf("category name appears more than once")}
		}
		seen[name] = struct{}{}
		names[i] = name
	}
	return CategorySchema{Names: names, Delimiter: delim}, nil
}

// DecodeOptions tunes CategorySchema.Decode.
type DecodeOptions struct {
	// StrictBinary rejects values other than 0 and 1.
	StrictBinary bool
	// VerifyNames checks each token's name against the schema, not only the
	// token count.
	VerifyNames bool
}

// Decode returns the integer value of every token in value. The value of a
// token is its final character.
func (s CategorySchema) Decode(value string, opt DecodeOptions) ([]int64, error) {
	toks := strings.Split(value, s.Delimiter)
	if len(toks) != len(s.Names) {
		return nil, etlerr.New(etlerr.KindParse, opExpand,
			"expected %d category tokens, got %d", len(s.Names), len(toks))
	}
	out := make([]int64, len(toks))
	for i, tok := range toks {
		r := []rune(tok)
		if len(r) < 2 {
			return nil, &etlerr.Error{Kind: etlerr.KindParse, Op: opExpand, Column: s.Names[i],
				Err: fmt.Errorf("token %q is too short to carry a name and value", tok)}
		}
		if opt.VerifyNames && string(r[:len(r)-2]) != s.Names[i] {
			return nil, &etlerr.Error{Kind: etlerr.KindParse, Op: opExpand, Column: s.Names[i],
				Err: fmt.Errorf("token %q does not match category %q", tok, s.Names[i])}
		}
		n, err := strconv.Atoi(string(r[len(r)-1]))
		if err != nil {
			return nil, &etlerr.Error{Kind: etlerr.KindConversion, Op: opExpand, Column: s.Names[i],
				Err: fmt.Errorf("token %q: value is not a digit", tok)}
		}
		if opt.StrictBinary && n != 0 && n != 1 {
			return nil, &etlerr.Error{Kind: etlerr.KindParse, Op: opExpand, Column: s.Names[i],
				Err: fmt.Errorf("token %q: value %d is not binary", tok, n)}
		}
		out[i] = int64(n)
	}
	return out, nil
}

// ExpandCategories replaces Column with one int64 column per category.
type ExpandCategories struct {
	// Column is the encoded field; defaults to "categories".
	Column string
	// Delimiter separates tokens; defaults to ";".
	Delimiter string

	DecodeOptions
}

func (e ExpandCategories) column() string {
	if e.Column == "" {
		return DefaultCategoriesColumn
	}
	return e.Column
}

func (e ExpandCategories) delimiter() string {
	if e.Delimiter == "" {
		return DefaultCategoriesDelimiter
	}
	return e.Delimiter
}

// Apply implements transformer.Transformer. The output keeps every other
// column in its original position and appends the category columns in token
// order.
func (e ExpandCategories) Apply(ctx context.Context, in *records.Table) (*records.Table, error) {
	col := e.column()
	if !in.HasColumn(col) {
		return nil, &etlerr.Error{Kind: etlerr.KindSchema, Op: opExpand, Column: col,
			Err: fmt.Errorf("required column is missing")}
	}

	kept := make([]string, 0, len(in.Columns))
	for _, c := range in.Columns {
		if c != col {
			kept = append(kept, c)
		}
	}
	if len(in.Rows) == 0 {
		return records.NewTable(kept...), nil
	}

	first, err := encodedValue(in.Rows[0], col, 0)
	if err != nil {
		return nil, err
	}
	schema, err := DeriveSchema(first, e.delimiter())
	if err != nil {
		return nil, err
	}
	for _, name := range schema.Names {
		for _, c := range kept {
			if c == name {
				return nil, &etlerr.Error{Kind: etlerr.KindSchema, Op: opExpand, Column: name,
					Err: fmt.Errorf("category name collides with an existing column")}
			}
		}
	}

	out := records.NewTable(append(kept, schema.Names...)...)
	out.Rows = make([]records.Record, 0, len(in.Rows))
	for i, r := range in.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		s, err := encodedValue(r, col, i)
		if err != nil {
			return nil, err
		}
		vals, err := schema.Decode(s, e.DecodeOptions)
		if err != nil {
			return nil, atRow(err, i)
		}
		rec := make(records.Record, len(out.Columns))
		for _, c := range kept {
			rec[c] = r[c]
		}
		for j, name := range schema.Names {
			rec[name] = vals[j]
		}
		out.Rows = append(out.Rows, rec)
	}
	return out, nil
}

func encodedValue(r records.Record, col string, idx int) (string, error) {
	s, ok := r[col].(string)
	if !ok {
		return "", &etlerr.Error{Kind: etlerr.KindParse, Op: opExpand, Column: col,
			Err: fmt.Errorf("row %d: expected encoded text, got %T", idx+1, r[col])}
	}
	return s, nil
}

// atRow prefixes the row number onto a decode error, keeping its kind.
func atRow(err error, idx int) error {
	if e, ok := err.(*etlerr.Error); ok {
		cp := *e
		cp.Err = fmt.Errorf("row %d: %w", idx+1, e.Err)
		return &cp
	}
	return fmt.Errorf("row %d: %w", idx+1, err)
}
