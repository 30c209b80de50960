package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// MetricPoint is one collected metric data point.
type MetricPoint struct {
	Name  string  `json:"name"`
	Attrs string  `json:"attrs,omitempty"`
	Value float64 `json:"value"`
}

func (p MetricPoint) String() string {
	if p.Attrs == "" {
		return fmt.Sprintf("%s %g", p.Name, p.Value)
	}
	return fmt.Sprintf("%s{%s} %g", p.Name, p.Attrs, p.Value)
}

// telemetry installs SDK meter and tracer providers for one command.
// Metrics are pulled once at the end; ended spans are logged at debug
// level.
type telemetry struct {
	reader *sdkmetric.ManualReader
	mp     *sdkmetric.MeterProvider
	tp     *sdktrace.TracerProvider
}

func startTelemetry() *telemetry {
	reader := sdkmetric.NewManualReader()
	t := &telemetry{
		reader: reader,
		mp:     sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		tp:     sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(slogSpanProcessor{})),
	}
	otel.SetMeterProvider(t.mp)
	otel.SetTracerProvider(t.tp)
	return t
}

// collect returns counter totals and histogram counts, sorted by name.
func (t *telemetry) collect(ctx context.Context) ([]MetricPoint, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	enc := attribute.DefaultEncoder()
	var out []MetricPoint
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, MetricPoint{Name: m.Name, Attrs: dp.Attributes.Encoded(enc), Value: float64(dp.Value)})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, MetricPoint{Name: m.Name + "_count", Attrs: dp.Attributes.Encoded(enc), Value: float64(dp.Count)})
					out = append(out, MetricPoint{Name: m.Name + "_sum", Attrs: dp.Attributes.Encoded(enc), Value: dp.Sum})
				}
			}
		}
	}
	slices.SortFunc(out, func(a, b MetricPoint) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Attrs, b.Attrs)
	})
	return out, nil
}

func (t *telemetry) shutdown(ctx context.Context) error {
	return errors.Join(t.mp.Shutdown(ctx), t.tp.Shutdown(ctx))
}

type slogSpanProcessor struct{}

func (slogSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (slogSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	args := []any{
		"span", s.Name(),
		"duration", s.EndTime().Sub(s.StartTime()),
		"status", s.Status().Code.String(),
	}
	for _, kv := range s.Attributes() {
		args = append(args, string(kv.Key), kv.Value.Emit())
	}
	slog.Debug("span ended", args...)
}

func (slogSpanProcessor) Shutdown(context.Context) error   { return nil }
func (slogSpanProcessor) ForceFlush(context.Context) error { return nil }
