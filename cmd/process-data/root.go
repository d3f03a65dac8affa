package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/config"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/etlerr"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/logging"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/pipeline"
)

const usage = `Please provide the filepaths of the messages and categories datasets as the
first and second argument respectively, the database to save the cleaned data
to as the third argument and the table name as the fourth argument.

Example: process-data disaster_messages.csv disaster_categories.csv DisasterResponse.db messages

The database may be a SQLite file path or a postgres://, sqlserver:// or
mysql:// URL. Run with --help to list the flags.
`

// options holds the flag values.
type options struct {
	configPath     string
	envFile        string
	validateOnly   bool
	verbose        bool
	ifExists       string
	strictBinary   bool
	verifyNames    bool
	noDedup        bool
	dedupKeys      []string
	dedupPolicy    string
	batchSize      int
	delimiter      string
	logLevel       string
	logFormat      string
	metricsBackend string
	pushgatewayURL string
	statsdAddr     string
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return etlerr.ExitCode(err)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:   "process-data <messages.csv> <categories.csv> <destination> <table>",
		Short: "Merge, clean and store the disaster messages dataset",
		Args:  cobra.ArbitraryArgs,
		// Failures are reported by execute with their exit code.
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, &o, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "YAML or JSON run configuration")
	f.StringVar(&o.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	f.BoolVar(&o.validateOnly, "validate-config", false, "validate the configuration and exit")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	f.StringVar(&o.ifExists, "if-exists", "", "table policy: overwrite, append or fail-if-exists")
	f.BoolVar(&o.strictBinary, "strict-binary", false, "reject category values other than 0 and 1")
	f.BoolVar(&o.verifyNames, "verify-names", false, "check every category token name against the first row")
	f.BoolVar(&o.noDedup, "no-dedup", false, "keep duplicate rows")
	f.StringSliceVar(&o.dedupKeys, "dedup-key", nil, "collapse rows sharing these columns instead of exact duplicates")
	f.StringVar(&o.dedupPolicy, "dedup-policy", "", "keyed dedup winner: keep-first, keep-last or most-complete")
	f.IntVar(&o.batchSize, "batch-size", 0, "rows per insert batch")
	f.StringVar(&o.delimiter, "delimiter", "", "separator between category tokens")
	f.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&o.logFormat, "log-format", "", "console or json")
	f.StringVar(&o.metricsBackend, "metrics-backend", "", "none, pushgateway or datadog")
	f.StringVar(&o.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL")
	f.StringVar(&o.statsdAddr, "statsd-addr", "", "DogStatsD address")
	return cmd
}

func run(cmd *cobra.Command, args []string, o *options, stdout, stderr io.Writer) error {
	if !o.validateOnly && len(args) != 4 {
		fmt.Fprint(stdout, usage)
		return nil
	}

	cfg, err := resolveConfig(cmd, o)
	if err != nil {
		return err
	}
	issues := config.ValidatePipeline(cfg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("config: %w", etlerr.ErrInvalidConfig)
	}
	if o.validateOnly {
		fmt.Fprintln(stdout, "Configuration is valid.")
		return nil
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("%w: %v", etlerr.ErrInvalidConfig, err)
	}
	log, runID := logging.WithRun(log)
	defer func() { _ = log.Sync() }()

	closeMetrics := setupMetrics(cfg, runID, log)
	defer closeMetrics()

	a := pipeline.Args{MessagesPath: args[0], CategoriesPath: args[1], Destination: args[2], TableName: args[3]}
	log.Debug("starting run", zap.String("table", a.TableName), zap.String("job", cfg.Job))
	_, err = pipeline.Run(cmd.Context(), a, cfg, pipeline.Deps{Out: stdout, Logger: log})
	if errors.Is(err, context.Canceled) {
		log.Warn("run interrupted")
	}
	return err
}

// resolveConfig layers defaults, the config file, the environment and the
// flags that were set explicitly.
func resolveConfig(cmd *cobra.Command, o *options) (config.Pipeline, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return config.Pipeline{}, fmt.Errorf("%w: %v", etlerr.ErrInvalidConfig, err)
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", etlerr.ErrInvalidConfig, err)
	}
	if err := config.ApplyEnv(&cfg, nil); err != nil {
		return cfg, fmt.Errorf("%w: %v", etlerr.ErrInvalidConfig, err)
	}

	f := cmd.Flags()
	if f.Changed("if-exists") {
		cfg.Storage.IfExists = o.ifExists
	}
	if f.Changed("strict-binary") {
		cfg.Categories.StrictBinary = o.strictBinary
	}
	if f.Changed("verify-names") {
		cfg.Categories.VerifyNames = o.verifyNames
	}
	if f.Changed("no-dedup") {
		cfg.Dedup.Enabled = !o.noDedup
	}
	if f.Changed("dedup-key") {
		cfg.Dedup.Keys = o.dedupKeys
	}
	if f.Changed("dedup-policy") {
		cfg.Dedup.Policy = o.dedupPolicy
	}
	if f.Changed("batch-size") {
		cfg.Storage.BatchSize = o.batchSize
	}
	if f.Changed("delimiter") {
		cfg.Categories.Delimiter = o.delimiter
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if f.Changed("log-format") {
		cfg.Logging.Format = o.logFormat
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	if f.Changed("metrics-backend") {
		cfg.Metrics.Backend = o.metricsBackend
	}
	if f.Changed("pushgateway-url") {
		cfg.Metrics.PushgatewayURL = o.pushgatewayURL
	}
	if f.Changed("statsd-addr") {
		cfg.Metrics.StatsdAddr = o.statsdAddr
	}
	return cfg, nil
}
