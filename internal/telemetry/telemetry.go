package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	logx "github.com/chative-support/server/pkg/logger"
)

type Config struct {
	Enabled        bool          `envconfig:"TELEMETRY_ENABLED" default:"true"`
	ServiceName    string        `envconfig:"OTEL_SERVICE_NAME" default:"supportbot"`
	MetricInterval time.Duration `envconfig:"TELEMETRY_METRIC_INTERVAL" default:"60s"`
}

// Shutdown flushes and stops the providers installed by Setup.
type Shutdown func(context.Context) error

// Setup installs global tracer and meter providers that export through the
// structured logger. When telemetry is disabled the otel no-op providers stay
// in place.
func Setup(ctx context.Context, cfg Config) (Shutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = time.Minute
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(&logSpanExporter{}),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(&logMetricExporter{},
			sdkmetric.WithInterval(cfg.MetricInterval))),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	logx.Debug().Str("service", cfg.ServiceName).Msg("Telemetry providers installed")
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// logSpanExporter writes finished spans as debug log lines.
type logSpanExporter struct{}

func (e *logSpanExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		ev := logx.Debug().
			Str("span", s.Name()).
			Str("trace_id", s.SpanContext().TraceID().String()).
			Str("span_id", s.SpanContext().SpanID().String()).
			Dur("duration", s.EndTime().Sub(s.StartTime())).
			Str("status", s.Status().Code.String())
		if p := s.Parent(); p.IsValid() {
			ev = ev.Str("parent_id", p.SpanID().String())
		}
		for _, kv := range s.Attributes() {
			ev = ev.Str(string(kv.Key), kv.Value.Emit())
		}
		ev.Msg("Span finished")
	}
	return nil
}

func (e *logSpanExporter) Shutdown(context.Context) error { return nil }

// logMetricExporter writes collected metrics as debug log lines.
type logMetricExporter struct{}

func (e *logMetricExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (e *logMetricExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (e *logMetricExporter) Export(_ context.Context, rm *metricdata.ResourceMetrics) error {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			ev := logx.Debug().Str("metric", m.Name).Str("scope", sm.Scope.Name)
			switch d := m.Data.(type) {
			case metricdata.Sum[int64]:
				ev = ev.Int64("value", sumInt(d.DataPoints))
			case metricdata.Sum[float64]:
				ev = ev.Float64("value", sumFloat(d.DataPoints))
			case metricdata.Histogram[int64]:
				c, s := histInt(d.DataPoints)
				ev = ev.Uint64("count", c).Int64("sum", s)
			case metricdata.Histogram[float64]:
				c, s := histFloat(d.DataPoints)
				ev = ev.Uint64("count", c).Float64("sum", s)
			}
			ev.Msg("Metric collected")
		}
	}
	return nil
}

func (e *logMetricExporter) ForceFlush(context.Context) error { return nil }
func (e *logMetricExporter) Shutdown(context.Context) error   { return nil }

func sumInt(dps []metricdata.DataPoint[int64]) int64 {
	var s int64
	for _, dp := range dps {
		s += dp.Value
	}
	return s
}

func sumFloat(dps []metricdata.DataPoint[float64]) float64 {
	var s float64
	for _, dp := range dps {
		s += dp.Value
	}
	return s
}

func histInt(dps []metricdata.HistogramDataPoint[int64]) (uint64, int64) {
	var c uint64
	var s int64
	for _, dp := range dps {
		c += dp.Count
		s += dp.Sum
	}
	return c, s
}

func histFloat(dps []metricdata.HistogramDataPoint[float64]) (uint64, float64) {
	var c uint64
	var s float64
	for _, dp := range dps {
		c += dp.Count
		s += dp.Sum
	}
	return c, s
}
