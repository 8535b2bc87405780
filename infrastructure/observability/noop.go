package observability

import (
	"context"

	"github.com/felixgeelhaar/roundtable/domain/telemetry"
)

// NoopTracer discards all spans. It is the default when tracing is off.
type NoopTracer struct{}

// NewNoopTracer returns a NoopTracer.
func NewNoopTracer() *NoopTracer { return &NoopTracer{} }

// StartSpan returns ctx unchanged.
func (*NoopTracer) StartSpan(ctx context.Context, _ string, _ ...telemetry.SpanOption) (context.Context, telemetry.Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End()                                    {}
func (noopSpan) SetAttributes(...telemetry.Attribute)    {}
func (noopSpan) RecordError(error)                       {}
func (noopSpan) SetStatus(telemetry.StatusCode, string)  {}
func (noopSpan) AddEvent(string, ...telemetry.Attribute) {}
