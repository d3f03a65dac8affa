// Package config defines the run configuration for process-data: how the
// inputs are parsed, how categories are expanded, where rows are written
// and which logging and metrics backends are active.
//
// Values are layered: Defaults, then an optional YAML (or JSON) file, then
// environment variables, then command-line flags applied by the driver.
//
// Example (YAML):
//
//	job: disaster_messages
//	input:
//	  comma: ","
//	categories:
//	  delimiter: ";"
//	  strict_binary: true
//	storage:
//	  if_exists: overwrite
//	  batch_size: 1000
//	metrics:
//	  backend: pushgateway
//	  pushgateway_url: http://localhost:9091
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned by Load when the named file does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// Environment variables read by ApplyEnv.
const (
	EnvLogLevel       = "PROCESS_DATA_LOG_LEVEL"
	EnvLogFormat      = "PROCESS_DATA_LOG_FORMAT"
	EnvIfExists       = "PROCESS_DATA_IF_EXISTS"
	EnvBatchSize      = "PROCESS_DATA_BATCH_SIZE"
	EnvMetricsBackend = "PROCESS_DATA_METRICS_BACKEND"
	EnvPushgatewayURL = "PUSHGATEWAY_URL"
	EnvStatsdAddr     = "DD_AGENT_ADDR"
)

// Pipeline is the complete run configuration.
type Pipeline struct {
	// Job labels metrics and log lines for this run.
	Job string `yaml:"job" json:"job"`

	Input      Input      `yaml:"input" json:"input"`
	Categories Categories `yaml:"categories" json:"categories"`
	Dedup      Dedup      `yaml:"dedup" json:"dedup"`
	Storage    Storage    `yaml:"storage" json:"storage"`
	Logging    Logging    `yaml:"logging" json:"logging"`
	Metrics    Metrics    `yaml:"metrics" json:"metrics"`
}

// Input configures CSV parsing of both input files.
type Input struct {
	// Comma is the single-character field delimiter.
	Comma      string `yaml:"comma" json:"comma"`
	TrimSpace  bool   `yaml:"trim_space" json:"trim_space"`
	InferTypes bool   `yaml:"infer_types" json:"infer_types"`
}

// Categories configures expansion of the encoded categories column.
type Categories struct {
	Column       string `yaml:"column" json:"column"`
	Delimiter    string `yaml:"delimiter" json:"delimiter"`
	StrictBinary bool   `yaml:"strict_binary" json:"strict_binary"`
	VerifyNames  bool   `yaml:"verify_names" json:"verify_names"`
}

// Dedup controls duplicate removal. Without Keys only rows identical in
// every column are duplicates; with Keys rows sharing the key values are
// collapsed according to Policy.
type Dedup struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Keys         []string `yaml:"keys" json:"keys"`
	Policy       string   `yaml:"policy" json:"policy"`
	PreferFields []string `yaml:"prefer_fields" json:"prefer_fields"`
}

// Storage configures the sink. The destination itself is a positional
// argument, not part of the file.
type Storage struct {
	// IfExists is overwrite, append or fail-if-exists.
	IfExists  string `yaml:"if_exists" json:"if_exists"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
}

// Logging selects level and encoding of the zap logger.
type Logging struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Metrics selects the metrics backend: none, pushgateway or datadog.
type Metrics struct {
	Backend        string   `yaml:"backend" json:"backend"`
	PushgatewayURL string   `yaml:"pushgateway_url" json:"pushgateway_url"`
	StatsdAddr     string   `yaml:"statsd_addr" json:"statsd_addr"`
	Namespace      string   `yaml:"namespace" json:"namespace"`
	Tags           []string `yaml:"tags" json:"tags"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Pipeline {
	return Pipeline{
		Job:        "process_data",
		Input:      Input{Comma: ",", InferTypes: true},
		Categories: Categories{Column: "categories", Delimiter: ";"},
		Dedup:      Dedup{Enabled: true},
		Storage:    Storage{IfExists: "overwrite", BatchSize: 500},
		Logging:    Logging{Level: "info", Format: "console"},
		Metrics:    Metrics{Backend: "none"},
	}
}

// Load returns Defaults overlaid with the file at path. An empty path
// skips the file. Keys absent from the file keep their defaults. JSON
// files decode too, since JSON is valid YAML.
func Load(path string) (Pipeline, error) {
	p := Defaults()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, fmt.Errorf("config: %s: %w", path, ErrConfigNotFound)
		}
		return p, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return p, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields of p from the environment. Empty values are
// ignored.
func ApplyEnv(p *Pipeline, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}

	if v, ok := get(EnvLogLevel); ok {
		p.Logging.Level = v
	}
	if v, ok := get(EnvLogFormat); ok {
		p.Logging.Format = v
	}
	if v, ok := get(EnvIfExists); ok {
		p.Storage.IfExists = v
	}
	if v, ok := get(EnvBatchSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvBatchSize, err)
		}
		p.Storage.BatchSize = n
	}
	if v, ok := get(EnvMetricsBackend); ok {
		p.Metrics.Backend = v
	}
	if v, ok := get(EnvPushgatewayURL); ok {
		p.Metrics.PushgatewayURL = v
	}
	if v, ok := get(EnvStatsdAddr); ok {
		p.Metrics.StatsdAddr = v
	}
	return nil
}
