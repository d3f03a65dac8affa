// Package pipeline sequences the three stages of a run: load and merge the
// inputs, clean the merged table, save it to the destination store.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/cleaner"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/config"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/loader"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/metrics"
	pcsv "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/parser/csv"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/transformer/builtin"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/pkg/records"
)

// Args are the four positional arguments of a run.
type Args struct {
	MessagesPath   string
	CategoriesPath string
	Destination    string
	TableName      string
}

// OpenFunc opens a sink for a destination string.
type OpenFunc func(ctx context.Context, destination string, opt storage.Options) (storage.Sink, error)

// Deps are the collaborators of Run. Zero values fall back to discarding
// output, a no-op logger and storage.Open.
type Deps struct {
	// Out receives the progress lines.
	Out    io.Writer
	Logger *zap.Logger
	Open   OpenFunc
}

// Result summarizes a successful run.
type Result struct {
	RowsMerged        int
	Categories        int
	DuplicatesDropped int
	RowsSaved         int64
}

// Run loads, cleans and saves. The destination is not opened until the
// cleaned table is ready, so a failure in an earlier stage leaves the store
// untouched.
func Run(ctx context.Context, args Args, cfg config.Pipeline, deps Deps) (Result, error) {
	out := deps.Out
	if out == nil {
		out = io.Discard
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	open := deps.Open
	if open == nil {
		open = storage.Open
	}

	var res Result
	policy, err := storage.ParsePolicy(cfg.Storage.IfExists)
	if err != nil {
		return res, fmt.Errorf("pipeline: %w", err)
	}

	fmt.Fprintf(out, "Loading data...\n    MESSAGES: %s\n    CATEGORIES: %s\n", args.MessagesPath, args.CategoriesPath)
	start := time.Now()
	merged, err := loader.Load(ctx, args.MessagesPath, args.CategoriesPath, loader.Options{
		CSV:    csvOptions(cfg),
		Logger: log.Named("loader"),
		Job:    cfg.Job,
	})
	metrics.RecordStep(cfg.Job, metrics.StepLoad, err, time.Since(start))
	if err != nil {
		return res, err
	}
	res.RowsMerged = merged.Len()
	metrics.RecordRows(cfg.Job, metrics.RowsMerged, int64(res.RowsMerged))

	fmt.Fprintln(out, "Cleaning data...")
	start = time.Now()
	cleaned, st, err := cleaner.CleanWithStats(ctx, merged, cleanerOptions(cfg, log.Named("cleaner")))
	metrics.RecordStep(cfg.Job, metrics.StepClean, err, time.Since(start))
	if err != nil {
		return res, err
	}
	res.Categories = st.Categories
	res.DuplicatesDropped = st.DuplicatesDropped
	metrics.RecordRows(cfg.Job, metrics.RowsDuplicatesDropped, int64(st.DuplicatesDropped))

	fmt.Fprintf(out, "Saving data...\n    DATABASE: %s\n    TABLE: %s\n", storage.Redact(args.Destination), args.TableName)
	start = time.Now()
	res.RowsSaved, err = save(ctx, open, cleaned, args, policy, cfg, log.Named("storage"))
	metrics.RecordStep(cfg.Job, metrics.StepSave, err, time.Since(start))
	if err != nil {
		return res, err
	}
	metrics.RecordRows(cfg.Job, metrics.RowsSaved, res.RowsSaved)

	fmt.Fprintln(out, "Cleaned data saved to database!")
	log.Info("run complete",
		zap.Int("rows_merged", res.RowsMerged),
		zap.Int("categories", res.Categories),
		zap.Int("duplicates_dropped", res.DuplicatesDropped),
		zap.Int64("rows_saved", res.RowsSaved),
	)
	return res, nil
}

func save(ctx context.Context, open OpenFunc, t *records.Table, args Args, policy storage.Policy,
	cfg config.Pipeline, log *zap.Logger) (n int64, err error) {
	sink, err := open(ctx, args.Destination, storage.Options{BatchSize: cfg.Storage.BatchSize, Logger: log, Job: cfg.Job})
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("pipeline: close sink: %w", cerr)
		}
	}()
	return sink.Save(ctx, t, args.TableName, policy)
}

func csvOptions(cfg config.Pipeline) pcsv.Options {
	opt := pcsv.Options{
		TrimSpace:   cfg.Input.TrimSpace,
		InferTypes:  cfg.Input.InferTypes,
		TextColumns: []string{cfg.Categories.Column},
	}
	if r := []rune(cfg.Input.Comma); len(r) == 1 {
		opt.Comma = r[0]
	}
	return opt
}

func cleanerOptions(cfg config.Pipeline, log *zap.Logger) cleaner.Options {
	return cleaner.Options{
		Categories: builtin.ExpandCategories{
			Column:    cfg.Categories.Column,
			Delimiter: cfg.Categories.Delimiter,
			DecodeOptions: builtin.DecodeOptions{
				StrictBinary: cfg.Categories.StrictBinary,
				VerifyNames:  cfg.Categories.VerifyNames,
			},
		},
		Dedup: builtin.DeDup{
			Keys:         cfg.Dedup.Keys,
			Policy:       cfg.Dedup.Policy,
			PreferFields: cfg.Dedup.PreferFields,
		},
		KeepDuplicates: !cfg.Dedup.Enabled,
		Logger:         log,
	}
}
