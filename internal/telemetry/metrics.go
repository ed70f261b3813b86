package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RunMetrics records per-request graph outcomes.
type RunMetrics struct {
	runs    metric.Int64Counter
	latency metric.Float64Histogram
	cost    metric.Float64Histogram
	tokens  metric.Int64Counter
}

// NewRunMetrics creates the graph instruments on meter, or on the global
// meter provider when meter is nil.
func NewRunMetrics(meter metric.Meter) (*RunMetrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	runs, err := meter.Int64Counter("chatbot.graph.runs",
		metric.WithDescription("Number of conversation graph runs"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("chatbot.graph.latency_ms",
		metric.WithDescription("Conversation graph latency in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	cost, err := meter.Float64Histogram("chatbot.graph.cost_usd",
		metric.WithDescription("LLM cost of one conversation graph run"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}
	tokens, err := meter.Int64Counter("chatbot.llm.tokens",
		metric.WithDescription("LLM tokens consumed"))
	if err != nil {
		return nil, err
	}
	return &RunMetrics{runs: runs, latency: latency, cost: cost, tokens: tokens}, nil
}

// RecordRun records one finished run. route is the classification label the
// run was routed on.
func (m *RunMetrics) RecordRun(ctx context.Context, route string, d time.Duration, costUSD float64, promptTokens, completionTokens int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.Bool("success", err == nil),
	)
	m.runs.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(d.Microseconds())/1000, attrs)
	m.cost.Record(ctx, costUSD, attrs)
	m.tokens.Add(ctx, int64(promptTokens), metric.WithAttributes(attribute.String("direction", "input")))
	m.tokens.Add(ctx, int64(completionTokens), metric.WithAttributes(attribute.String("direction", "output")))
}
