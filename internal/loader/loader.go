// Package loader reads the messages and categories files and inner-joins
// them on their shared id column.
package loader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/etlerr"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/metrics"
	pcsv "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/parser/csv"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/pkg/records"
)

// KeyColumn is the join key both inputs must carry.
const KeyColumn = "id"

// collisionSuffix is appended to a right-hand column whose name is already
// used by the left-hand table.
const collisionSuffix = "_y"

// Options configures Load.
type Options struct {
	// CSV is applied to both input files.
	CSV pcsv.Options

	// Logger receives per-file row counts; nil disables logging.
	Logger *zap.Logger

	// Job labels the loaded-rows metric.
	Job string
}

// Load parses both files and returns their inner join on KeyColumn.
func Load(ctx context.Context, messagesPath, categoriesPath string, opt Options) (*records.Table, error) {
	log := opt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	p := pcsv.NewParser(opt.CSV)

	messages, err := p.ParseFile(ctx, messagesPath)
	if err != nil {
		return nil, fmt.Errorf("loader: load messages: %w", err)
	}
	log.Info("parsed input", zap.String("file", messagesPath), zap.Int("rows", messages.Len()))
	metrics.RecordRows(opt.Job, metrics.RowsLoaded, int64(messages.Len()))

	categories, err := p.ParseFile(ctx, categoriesPath)
	if err != nil {
		return nil, fmt.Errorf("loader: load categories: %w", err)
	}
	log.Info("parsed input", zap.String("file", categoriesPath), zap.Int("rows", categories.Len()))
	metrics.RecordRows(opt.Job, metrics.RowsLoaded, int64(categories.Len()))

	if !messages.HasColumn(KeyColumn) {
		return nil, &etlerr.Error{Kind: etlerr.KindSchema, Op: "loader: load messages", Path: messagesPath,
			Column: KeyColumn, Err: fmt.Errorf("required join column is missing")}
	}
	if !categories.HasColumn(KeyColumn) {
		return nil, &etlerr.Error{Kind: etlerr.KindSchema, Op: "loader: load categories", Path: categoriesPath,
			Column: KeyColumn, Err: fmt.Errorf("required join column is missing")}
	}

	merged := Join(messages, categories, KeyColumn)
	log.Info("merged inputs", zap.Int("rows", merged.Len()), zap.Int("columns", len(merged.Columns)))
	return merged, nil
}

// Join computes the inner join of left and right on key. The result holds
// left's columns followed by right's non-key columns; a right column whose
// name already exists on the left gets a "_y" suffix. Rows come out in left
// order, and for each left row in right order, so a key appearing m times on
// the left and n times on the right yields m*n rows. Rows with a nil key
// never match.
func Join(left, right *records.Table, key string) *records.Table {
	type rightCol struct{ src, dst string }

	taken := make(map[string]struct{}, len(left.Columns)+len(right.Columns))
	for _, c := range left.Columns {
		taken[c] = struct{}{}
	}
	cols := append([]string(nil), left.Columns...)
	var extra []rightCol
	for _, c := range right.Columns {
		if c == key {
			continue
		}
		dst := c
		for {
			if _, dup := taken[dst]; !dup {
				break
			}
			dst += collisionSuffix
		}
		taken[dst] = struct{}{}
		cols = append(cols, dst)
		extra = append(extra, rightCol{src: c, dst: dst})
	}

	index := make(map[string][]records.Record, len(right.Rows))
	for _, r := range right.Rows {
		k, ok := records.KeyString(r[key])
		if !ok {
			continue
		}
		index[k] = append(index[k], r)
	}

	out := records.NewTable(cols...)
	for _, l := range left.Rows {
		k, ok := records.KeyString(l[key])
		if !ok {
			continue
		}
		for _, r := range index[k] {
			rec := l.Clone()
			for _, c := range extra {
				rec[c.dst] = r[c.src]
			}
			out.Rows = append(out.Rows, rec)
		}
	}
	return out
}
