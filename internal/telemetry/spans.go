package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/chative-support/server"

// Span attribute keys shared by the graph and its sidecars.
const (
	AttrConversationID = attribute.Key("conversation.id")
	AttrNode           = attribute.Key("graph.node")
	AttrLLMModel       = attribute.Key("llm.model")
	AttrInputTokens    = attribute.Key("llm.input_tokens")
	AttrOutputTokens   = attribute.Key("llm.output_tokens")
	AttrTotalTokens    = attribute.Key("llm.total_tokens")
	AttrTotalCost      = attribute.Key("llm.total_cost")
	AttrSecurityBreach = attribute.Key("security_breach")
	AttrRAGContextSize = attribute.Key("rag.context_size")
)

// Tracer returns the service tracer from the global provider. It is looked
// up per call so providers installed after package init are honored.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts an internal span named name.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan completes span, recording err when set.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Annotate sets attributes on the span carried by ctx, if it is recording.
func Annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(attrs...)
}
