// Package telemetry provides the tracing interfaces used across the engine.
// Spans follow one invocation: a root span per run, a child per pipeline
// stage and a client span per reasoning call.
package telemetry

import (
	"context"
)

// Tracer creates spans.
type Tracer interface {
	// StartSpan starts a span and returns a context carrying it.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
}

// Span represents a unit of work in a trace.
type Span interface {
	End()
	SetAttributes(attrs ...Attribute)
	RecordError(err error)
	SetStatus(code StatusCode, description string)
	AddEvent(name string, attrs ...Attribute)
}

// SpanOption configures a span.
type SpanOption interface {
	ApplySpan(*SpanConfig)
}

// SpanConfig holds span configuration.
type SpanConfig struct {
	Attributes []Attribute
	Kind       SpanKind
}

// WithAttributes sets span attributes at creation.
func WithAttributes(attrs ...Attribute) SpanOption {
	return SpanOptionFunc(func(c *SpanConfig) {
		c.Attributes = append(c.Attributes, attrs...)
	})
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return SpanOptionFunc(func(c *SpanConfig) {
		c.Kind = kind
	})
}

// SpanOptionFunc is a function that implements SpanOption.
type SpanOptionFunc func(*SpanConfig)

// ApplySpan implements SpanOption.
func (f SpanOptionFunc) ApplySpan(c *SpanConfig) { f(c) }

// SpanKind represents the role of a span.
type SpanKind int

const (
	SpanKindUnspecified SpanKind = iota
	SpanKindInternal
	SpanKindServer
	SpanKindClient
	SpanKindProducer
	SpanKindConsumer
)

// StatusCode represents the status of a span.
type StatusCode int

const (
	StatusCodeUnset StatusCode = iota
	StatusCodeOK
	StatusCodeError
)

// Attribute keys shared by engine spans.
const (
	KeyRunID      = "roundtable.run_id"
	KeyStage      = "roundtable.stage"
	KeyRole       = "roundtable.role"
	KeyIteration  = "roundtable.iteration"
	KeyOutcome    = "roundtable.outcome"
	KeyModel      = "roundtable.model"
	KeySpecialist = "roundtable.specialist"
)

// Attribute represents a key-value pair. Values are string, int, int64,
// float64 or bool.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int creates an integer attribute.
func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// RunID tags a span with the invocation it belongs to.
func RunID(id string) Attribute { return String(KeyRunID, id) }

// Stage tags a span with a pipeline stage name.
func Stage(name string) Attribute { return String(KeyStage, name) }

// Role tags a reasoning span with the agent role.
func Role(role string) Attribute { return String(KeyRole, role) }

// Iteration tags a span with the plan attempt number.
func Iteration(n int) Attribute { return Int(KeyIteration, n) }

// Outcome tags a run span with "success" or the terminal error code.
func Outcome(outcome string) Attribute { return String(KeyOutcome, outcome) }
