package main

import (
	"strings"

	"go.uber.org/zap"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/config"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/metrics"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/metrics/datadog"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/metrics/prompush"
)

// setupMetrics installs the configured backend and returns the function
// that flushes it at exit. A backend that fails to start leaves metrics
// disabled; the run itself goes on.
func setupMetrics(cfg config.Pipeline, runID string, log *zap.Logger) func() {
	name := strings.ToLower(strings.TrimSpace(cfg.Metrics.Backend))
	switch name {
	case "pushgateway", "prompush":
		b, err := prompush.NewBackend(cfg.Job, cfg.Metrics.PushgatewayURL)
		if err != nil {
			log.Warn("metrics: prom push backend unavailable; using nop", zap.Error(err))
			return func() {}
		}
		metrics.SetBackend(b.WithGrouping("run_id", runID))
		log.Debug("metrics enabled", zap.String("backend", name), zap.String("url", cfg.Metrics.PushgatewayURL))
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Warn("metrics: flush error", zap.Error(err))
			}
			metrics.Reset()
		}

	case "datadog", "statsd":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       cfg.Metrics.StatsdAddr,
			Namespace:  cfg.Metrics.Namespace,
			GlobalTags: append([]string{"run_id:" + runID}, cfg.Metrics.Tags...),
		})
		if err != nil {
			log.Warn("metrics: datadog backend unavailable; using nop", zap.Error(err))
			return func() {}
		}
		metrics.SetBackend(b)
		log.Debug("metrics enabled", zap.String("backend", name), zap.String("addr", cfg.Metrics.StatsdAddr))
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Warn("metrics: flush error", zap.Error(err))
			}
			if err := b.Close(); err != nil {
				log.Warn("metrics: close error", zap.Error(err))
			}
			metrics.Reset()
		}

	case "", "none":
		log.Debug("metrics disabled")
	default:
		log.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", cfg.Metrics.Backend))
	}
	return func() {}
}
