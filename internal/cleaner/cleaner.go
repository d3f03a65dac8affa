// Package cleaner turns the merged message/category table into the
// analysis-ready shape: one integer column per category and no exact
// duplicate rows.
package cleaner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/transformer"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/transformer/builtin"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/pkg/records"
)

// Options configures Clean. The zero value expands the "categories" column
// on ";" and removes exact duplicates.
type Options struct {
	Categories builtin.ExpandCategories

	// Dedup selects keyed de-duplication; the zero value removes exact
	// duplicates.
	Dedup builtin.DeDup

	// KeepDuplicates skips the de-duplication step.
	KeepDuplicates bool

	Logger *zap.Logger
}

// Stats summarizes one Clean call.
type Stats struct {
	RowsIn            int
	Categories        int
	DuplicatesDropped int
	RowsOut           int
}

// Clean expands the categories column and drops duplicate rows as
// opt.Dedup selects. The input table is not modified.
func Clean(ctx context.Context, in *records.Table, opt Options) (*records.Table, error) {
	out, _, err := CleanWithStats(ctx, in, opt)
	return out, err
}

// CleanWithStats is Clean plus row accounting for logs and metrics.
func CleanWithStats(ctx context.Context, in *records.Table, opt Options) (*records.Table, Stats, error) {
	log := opt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if in == nil {
		return nil, Stats{}, fmt.Errorf("cleaner: nil table")
	}
	st := Stats{RowsIn: in.Len()}

	var expandedCols int
	chain := transformer.Chain{
		transformer.Func(func(ctx context.Context, t *records.Table) (*records.Table, error) {
			out, err := opt.Categories.Apply(ctx, t)
			if err != nil {
				return nil, err
			}
			expandedCols = len(out.Columns) - (len(t.Columns) - 1)
			return out, nil
		}),
	}
	if !opt.KeepDuplicates {
		chain = append(chain, opt.Dedup)
	}

	out, err := chain.Apply(ctx, in)
	if err != nil {
		return nil, st, fmt.Errorf("cleaner: %w", err)
	}

	st.Categories = expandedCols
	st.RowsOut = out.Len()
	st.DuplicatesDropped = st.RowsIn - st.RowsOut
	log.Info("cleaned table",
		zap.Int("rows_in", st.RowsIn),
		zap.Int("categories", st.Categories),
		zap.Int("duplicates_dropped", st.DuplicatesDropped),
		zap.Int("rows_out", st.RowsOut),
	)
	return out, st, nil
}
