package builtin

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/etlerr"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/pkg/records"
)

// Duplicate-resolution policies for keyed de-duplication.
const (
	// KeepFirst keeps the earliest row of each key.
	KeepFirst = "keep-first"
	// KeepLast keeps the latest row of each key.
	KeepLast = "keep-last"
	// MostComplete keeps the row with the most non-empty fields; PreferFields
	// break ties, then the earlier row wins.
	MostComplete = "most-complete"
)

// ParseDedupPolicy normalizes a policy name. Empty means KeepFirst.
func ParseDedupPolicy(s string) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(s)); p {
	case "":
		return KeepFirst, nil
	case KeepFirst, KeepLast, MostComplete:
		return p, nil
	}
	return "", fmt.Errorf("unknown dedup policy %q (want keep-first, keep-last or most-complete)", s)
}

// DeDup removes duplicate rows. Without Keys a duplicate is a row identical
// to an earlier one in every column, and the first occurrence is kept. Each
// row is hashed with xxh3 and hash matches are confirmed with a full
// comparison, so a collision never drops a distinct row.
//
// With Keys, rows sharing the key values are collapsed to one winner chosen
// by Policy. Key values compare in their canonical string form, as join keys
// do, and a row with a nil key value is never a duplicate. Survivors keep
// their input order.
type DeDup struct {
	Keys         []string
	Policy       string
	PreferFields []string
}

// Apply implements transformer.Transformer. The input table is not modified;
// surviving rows are shared with it.
func (d DeDup) Apply(ctx context.Context, in *records.Table) (*records.Table, error) {
	out := records.NewTable(in.Columns...)
	var (
		rows []records.Record
		err  error
	)
	switch {
	case len(d.Keys) > 0:
		rows, err = d.keyed(ctx, in)
	case len(in.Rows) == 0:
		return out, nil
	default:
		rows, err = exactUnique(ctx, in)
	}
	if err != nil {
		return nil, err
	}
	out.Rows = rows
	return out, nil
}

// exactUnique keeps the first occurrence of every distinct row.
func exactUnique(ctx context.Context, in *records.Table) ([]records.Record, error) {
	buckets := make(map[uint64][]int, len(in.Rows))
	out := make([]records.Record, 0, len(in.Rows))
	h := xxh3.New()
	var scratch [8]byte

	for i, r := range in.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		h.Reset()
		for _, c := range in.Columns {
			writeValue(h, r[c], scratch[:])
		}
		sum := h.Sum64()

		dup := false
		for _, j := range buckets[sum] {
			if rowsEqual(in.Columns, out[j], r) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		buckets[sum] = append(buckets[sum], len(out))
		out = append(out, r)
	}
	return out, nil
}

// writeValue feeds a type-tagged encoding of v into h so that, e.g., the
// string "1" and int64(1) hash differently.
func writeValue(h *xxh3.Hasher, v any, scratch []byte) {
	switch t := v.(type) {
	case nil:
		h.Write([]byte{0})
	case string:
		h.Write([]byte{'s'})
		binary.LittleEndian.PutUint64(scratch, uint64(len(t)))
		h.Write(scratch)
		h.WriteString(t)
	case int64:
		h.Write([]byte{'i'})
		binary.LittleEndian.PutUint64(scratch, uint64(t))
		h.Write(scratch)
	case float64:
		h.Write([]byte{'f'})
		if math.IsNaN(t) {
			t = math.NaN()
		}
		binary.LittleEndian.PutUint64(scratch, math.Float64bits(t))
		h.Write(scratch)
	default:
		s := fmt.Sprintf("%T:%v", t, t)
		h.Write([]byte{'x'})
		binary.LittleEndian.PutUint64(scratch, uint64(len(s)))
		h.Write(scratch)
		h.WriteString(s)
	}
}

func rowsEqual(cols []string, a, b records.Record) bool {
	for _, c := range cols {
		if !valuesEqual(a[c], b[c]) {
			return false
		}
	}
	return true
}

// valuesEqual treats two NaNs as equal, matching how duplicate detection
// treats missing numeric values.
func valuesEqual(a, b any) bool {
	fa, aok := a.(float64)
	fb, bok := b.(float64)
	if aok && bok {
		return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
	}
	switch a.(type) {
	case nil, string, int64, int, bool:
		return a == b
	}
	return fmt.Sprintf("%T:%v", a, a) == fmt.Sprintf("%T:%v", b, b)
}

func (d DeDup) keyed(ctx context.Context, in *records.Table) ([]records.Record, error) {
	const op = "dedup"
	policy, err := ParseDedupPolicy(d.Policy)
	if err != nil {
		return nil, etlerr.Wrap(etlerr.KindSchema, op, err)
	}
	for _, k := range d.Keys {
		if !in.HasColumn(k) {
			return nil, &etlerr.Error{Kind: etlerr.KindSchema, Op: op, Column: k,
				Err: fmt.Errorf("key column is missing")}
		}
	}

	type winner struct {
		idx              int
		filled, preferred int
	}
	winners := make(map[string]winner, len(in.Rows))
	keep := make([]bool, len(in.Rows))

	var kb strings.Builder
	for i, r := range in.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		key, ok := d.rowKey(&kb, r)
		if !ok {
			keep[i] = true
			continue
		}
		w := winner{idx: i}
		if policy == MostComplete {
			w.filled, w.preferred = completeness(r, d.PreferFields)
		}
		prev, seen := winners[key]
		switch {
		case !seen:
			winners[key] = w
		case policy == KeepLast:
			winners[key] = w
		case policy == MostComplete:
			if w.filled > prev.filled || (w.filled == prev.filled && w.preferred > prev.preferred) {
				winners[key] = w
			}
		}
	}
	for _, w := range winners {
		keep[w.idx] = true
	}

	out := make([]records.Record, 0, len(winners))
	for i, r := range in.Rows {
		if keep[i] {
			out = append(out, r)
		}
	}
	return out, nil
}

// rowKey joins the canonical key values with a unit separator. It reports
// false when any key value is nil.
func (d DeDup) rowKey(b *strings.Builder, r records.Record) (string, bool) {
	b.Reset()
	for i, k := range d.Keys {
		s, ok := records.KeyString(r[k])
		if !ok {
			return "", false
		}
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(s)
	}
	return b.String(), true
}

// completeness counts non-empty fields, and separately the non-empty fields
// listed in prefer.
func completeness(r records.Record, prefer []string) (filled, preferred int) {
	for _, v := range r {
		if !isEmpty(v) {
			filled++
		}
	}
	for _, f := range prefer {
		if !isEmpty(r[f]) {
			preferred++
		}
	}
	return filled, preferred
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}
