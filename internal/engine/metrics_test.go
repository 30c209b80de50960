package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestExecuteReportsTelemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	ms, mc := execute(t, New(), coreRules(t), buildIndex(t, sinks()))
	require.Len(t, ms, 4)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.GreaterOrEqual(t, sums["trcr_engine_runs_total"], int64(1))
	assert.GreaterOrEqual(t, sums["trcr_engine_matches_total"], int64(4))
	assert.GreaterOrEqual(t, sums["trcr_engine_candidates_total"], int64(mc.Stats().Candidates))

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
		if s.Name() != "engine.Execute" {
			continue
		}
		attrs := make(map[string]any)
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		assert.Equal(t, mc.RunID(), attrs["trcr.run_id"])
		assert.Equal(t, int64(4), attrs["trcr.matches"])
	}
	assert.Contains(t, names, "engine.Execute")
}
