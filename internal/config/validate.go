// This file adds a lightweight linter for Pipeline values. It performs
// static checks and returns a list of issues (errors and warnings) that the
// driver prints before any stage runs.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/logging"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/transformer/builtin"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "storage.if_exists").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline performs static validation of p. It does not mutate the
// pipeline; callers decide whether warnings are fatal.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "job",
			Message:  "job is empty; metrics fall back to the default job label",
		})
	}
	issues = append(issues, validateInput(p.Input)...)
	issues = append(issues, validateCategories(p.Categories, p.Input)...)
	issues = append(issues, validateDedup(p.Dedup, p.Categories)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateLogging(p.Logging)...)
	issues = append(issues, validateMetrics(p.Metrics)...)

	return issues
}

func validateInput(in Input) []Issue {
	var issues []Issue
	if in.Comma == "" {
		return issues
	}
	r, size := utf8.DecodeRuneInString(in.Comma)
	switch {
	case size != len(in.Comma):
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input.comma",
			Message:  fmt.Sprintf("comma must be a single character, got %q", in.Comma),
		})
	case r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input.comma",
			Message:  fmt.Sprintf("%q cannot be used as a field delimiter", in.Comma),
		})
	}
	return issues
}

func validateCategories(c Categories, in Input) []Issue {
	var issues []Issue

	if strings.TrimSpace(c.Column) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "categories.column",
			Message:  "categories.column must not be empty",
		})
	}
	if c.Delimiter == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "categories.delimiter",
			Message:  "categories.delimiter must not be empty",
		})
	} else if c.Delimiter == in.Comma {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "categories.delimiter",
			Message:  "categories.delimiter equals input.comma; encoded values must then be quoted in the file",
		})
	}
	return issues
}

func validateDedup(d Dedup, c Categories) []Issue {
	var issues []Issue

	if _, err := builtin.ParseDedupPolicy(d.Policy); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "dedup.policy",
			Message:  err.Error(),
		})
	}
	if len(d.Keys) == 0 {
		if strings.TrimSpace(d.Policy) != "" || len(d.PreferFields) > 0 {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "dedup.keys",
				Message:  "policy and prefer_fields only apply when keys are set",
			})
		}
	}
	for i, k := range d.Keys {
		switch {
		case strings.TrimSpace(k) == "":
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("dedup.keys[%d]", i),
				Message:  "key column must not be empty",
			})
		case k == c.Column:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("dedup.keys[%d]", i),
				Message:  fmt.Sprintf("%q is replaced by the category columns and cannot be a key", k),
			})
		}
	}
	if !d.Enabled && len(d.Keys) > 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "dedup.enabled",
			Message:  "dedup is disabled; keys are ignored",
		})
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if _, err := storage.ParsePolicy(s.IfExists); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.if_exists",
			Message:  err.Error(),
		})
	}
	if s.BatchSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.batch_size",
			Message:  fmt.Sprintf("batch_size must be positive, got %d", s.BatchSize),
		})
	}
	return issues
}

func validateLogging(l Logging) []Issue {
	var issues []Issue

	if _, err := logging.ParseLevel(l.Level); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "logging.level",
			Message:  err.Error(),
		})
	}
	switch strings.ToLower(strings.TrimSpace(l.Format)) {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "logging.format",
			Message:  fmt.Sprintf("unknown log format %q (want console or json)", l.Format),
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue

	switch strings.ToLower(strings.TrimSpace(m.Backend)) {
	case "", "none":
	case "pushgateway", "prompush":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "pushgateway backend requires a URL",
			})
		} else if u, err := url.Parse(m.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  fmt.Sprintf("pushgateway URL %q is not an absolute URL", m.PushgatewayURL),
			})
		}
	case "datadog", "statsd":
		if strings.TrimSpace(m.StatsdAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.statsd_addr",
				Message:  "datadog backend requires a DogStatsD address",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics disabled", m.Backend),
		})
	}
	return issues
}
