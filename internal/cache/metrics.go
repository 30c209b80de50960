package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("trcr.cache")

var (
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	cacheEvictions metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the counters on first use against whatever meter
// provider is installed globally at that time.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		if cacheHits, err = meter.Int64Counter(
			"trcr_match_cache_hits_total",
			metric.WithDescription("Match cache lookups that found an entry"),
		); err != nil {
			metricsErr = err
			return
		}
		if cacheMisses, err = meter.Int64Counter(
			"trcr_match_cache_misses_total",
			metric.WithDescription("Match cache lookups that found nothing"),
		); err != nil {
			metricsErr = err
			return
		}
		if cacheEvictions, err = meter.Int64Counter(
			"trcr_match_cache_evictions_total",
			metric.WithDescription("Entries evicted to stay within the size bound"),
		); err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordHit(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	cacheHits.Add(ctx, 1)
}

func recordMiss(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	cacheMisses.Add(ctx, 1)
}

func recordEviction(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	cacheEvictions.Add(ctx, 1)
}
