package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter  = otel.Meter("trcr.engine")
	tracer = otel.Tracer("trcr.engine")
)

var (
	runsTotal       metric.Int64Counter
	candidatesTotal metric.Int64Counter
	matchesTotal    metric.Int64Counter
	runDuration     metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		if runsTotal, err = meter.Int64Counter(
			"trcr_engine_runs_total",
			metric.WithDescription("Execute calls by outcome"),
		); err != nil {
			metricsErr = err
			return
		}
		if candidatesTotal, err = meter.Int64Counter(
			"trcr_engine_candidates_total",
			metric.WithDescription("Candidates evaluated against a clause"),
		); err != nil {
			metricsErr = err
			return
		}
		if matchesTotal, err = meter.Int64Counter(
			"trcr_engine_matches_total",
			metric.WithDescription("Matches returned, by effect kind"),
		); err != nil {
			metricsErr = err
			return
		}
		if runDuration, err = meter.Float64Histogram(
			"trcr_engine_run_duration_seconds",
			metric.WithDescription("Wall time of one Execute call"),
			metric.WithUnit("s"),
		); err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// recordRun reports one finished run. outcome is "ok", "cancelled",
// "budget" or "error".
func recordRun(ctx context.Context, outcome string, elapsed time.Duration, stats *Stats, effects map[string]int) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	runsTotal.Add(ctx, 1, attrs)
	runDuration.Record(ctx, elapsed.Seconds(), attrs)
	candidatesTotal.Add(ctx, int64(stats.Candidates))
	for kind, n := range effects {
		matchesTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("effect", kind)))
	}
}
