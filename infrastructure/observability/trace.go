package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/roundtable/domain/telemetry"
)

// OTelTracer adapts an OpenTelemetry tracer to telemetry.Tracer.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer uses the global tracer provider.
func NewOTelTracer(name string) *OTelTracer {
	return &OTelTracer{tracer: otel.Tracer(name)}
}

// StartSpan implements telemetry.Tracer.
func (t *OTelTracer) StartSpan(ctx context.Context, name string, opts ...telemetry.SpanOption) (context.Context, telemetry.Span) {
	var cfg telemetry.SpanConfig
	for _, opt := range opts {
		opt.ApplySpan(&cfg)
	}

	var start []trace.SpanStartOption
	if len(cfg.Attributes) > 0 {
		start = append(start, trace.WithAttributes(convertAttributes(cfg.Attributes)...))
	}
	if cfg.Kind != telemetry.SpanKindUnspecified {
		start = append(start, trace.WithSpanKind(convertSpanKind(cfg.Kind)))
	}

	ctx, span := t.tracer.Start(ctx, name, start...)
	return ctx, otelSpan{span}
}

type otelSpan struct{ trace.Span }

func (s otelSpan) End() { s.Span.End() }

func (s otelSpan) SetAttributes(attrs ...telemetry.Attribute) {
	s.Span.SetAttributes(convertAttributes(attrs)...)
}

func (s otelSpan) RecordError(err error) { s.Span.RecordError(err) }

func (s otelSpan) SetStatus(code telemetry.StatusCode, description string) {
	s.Span.SetStatus(convertStatusCode(code), description)
}

func (s otelSpan) AddEvent(name string, attrs ...telemetry.Attribute) {
	s.Span.AddEvent(name, trace.WithAttributes(convertAttributes(attrs)...))
}

// convertAttributes drops values of unsupported types.
func convertAttributes(attrs []telemetry.Attribute) []attribute.KeyValue {
	result := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		switch v := attr.Value.(type) {
		case string:
			result = append(result, attribute.String(attr.Key, v))
		case int:
			result = append(result, attribute.Int(attr.Key, v))
		case int64:
			result = append(result, attribute.Int64(attr.Key, v))
		case float64:
			result = append(result, attribute.Float64(attr.Key, v))
		case bool:
			result = append(result, attribute.Bool(attr.Key, v))
		case []string:
			result = append(result, attribute.StringSlice(attr.Key, v))
		case fmt.Stringer:
			result = append(result, attribute.String(attr.Key, v.String()))
		}
	}
	return result
}

func convertSpanKind(kind telemetry.SpanKind) trace.SpanKind {
	switch kind {
	case telemetry.SpanKindInternal:
		return trace.SpanKindInternal
	case telemetry.SpanKindServer:
		return trace.SpanKindServer
	case telemetry.SpanKindClient:
		return trace.SpanKindClient
	case telemetry.SpanKindProducer:
		return trace.SpanKindProducer
	case telemetry.SpanKindConsumer:
		return trace.SpanKindConsumer
	default:
		return trace.SpanKindUnspecified
	}
}

func convertStatusCode(code telemetry.StatusCode) codes.Code {
	switch code {
	case telemetry.StatusCodeOK:
		return codes.Ok
	case telemetry.StatusCodeError:
		return codes.Error
	default:
		return codes.Unset
	}
}

