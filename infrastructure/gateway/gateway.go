package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/specialist"
	"github.com/felixgeelhaar/roundtable/domain/task"
	"github.com/felixgeelhaar/roundtable/domain/telemetry"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
	"github.com/felixgeelhaar/roundtable/infrastructure/observability"
	"github.com/felixgeelhaar/roundtable/infrastructure/resilience"
)

// Call is one role-bound reasoning request.
type Call struct {
	// Role selects the specialist.
	Role specialist.Role
	// Prompt is the user prompt.
	Prompt string
	// Extensions are the capability extensions enabled for the user.
	Extensions []string
	// Schema, when set, constrains the response to a JSON object.
	Schema *Schema
}

// Response is the outcome of a reasoning call.
type Response struct {
	// Text is the raw model output.
	Text string
	// Raw is the validated JSON object when a schema was supplied.
	Raw json.RawMessage
	// Model is the model that produced the response.
	Model string
	// Specialist is the name of the resolved specialist.
	Specialist string
}

// Recorder observes gateway call outcomes.
type Recorder interface {
	ObserveGatewayCall(role, outcome string)
}

// Config configures the gateway.
type Config struct {
	// Models maps tiers to provider model names.
	Models map[specialist.Tier]string
	// Temperature is the sampling temperature.
	Temperature float64
	// MaxTokens caps the response length.
	MaxTokens int
	// AttemptTimeout bounds one provider call. Zero means none.
	AttemptTimeout time.Duration
	// RetryDelay is the delay before the single retry.
	RetryDelay time.Duration
	// BreakerThreshold is the consecutive failure count that opens the circuit.
	BreakerThreshold int
	// BreakerTimeout is how long the circuit stays open.
	BreakerTimeout time.Duration
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		Models: map[specialist.Tier]string{
			specialist.TierFast:     "gpt-4o-mini",
			specialist.TierStandard: "gpt-4o",
			specialist.TierAdvanced: "gpt-4o",
		},
		Temperature:      0.2,
		MaxTokens:        2048,
		AttemptTimeout:   60 * time.Second,
		RetryDelay:       250 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// Option configures the gateway.
type Option func(*Gateway)

// WithTracer sets the tracer used for call spans.
func WithTracer(t telemetry.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = t
	}
}

// WithRecorder sets the call outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) {
		g.recorder = r
	}
}

// Gateway routes role-bound calls to a provider with retry, circuit
// breaking and structured output validation.
type Gateway struct {
	provider Provider
	resolver specialist.Resolver
	config   Config
	executor *resilience.Executor[Response]
	tracer   telemetry.Tracer
	recorder Recorder
}

// New creates a gateway.
func New(provider Provider, resolver specialist.Resolver, config Config, opts ...Option) *Gateway {
	g := &Gateway{
		provider: provider,
		resolver: resolver,
		config:   config,
		executor: resilience.NewExecutor[Response](resilience.ExecutorConfig{
			CircuitBreakerThreshold: config.BreakerThreshold,
			CircuitBreakerTimeout:   config.BreakerTimeout,
			RetryMaxAttempts:        2,
			RetryInitialDelay:       config.RetryDelay,
			RetryBackoffMultiplier:  2.0,
		}),
		tracer: observability.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Provider returns the underlying provider.
func (g *Gateway) Provider() Provider {
	return g.provider
}

// Invoke resolves the role, calls the provider and validates the output.
// Transport failures surface as REASONING_UNAVAILABLE and schema violations
// as MALFORMED_OUTPUT, each after one retry.
func (g *Gateway) Invoke(ctx context.Context, call Call) (Response, error) {
	ctx, span := g.tracer.StartSpan(ctx, "gateway.invoke",
		telemetry.WithAttributes(telemetry.Role(string(call.Role))),
		telemetry.WithSpanKind(telemetry.SpanKindClient),
	)
	defer span.End()

	entry, err := g.resolver.Resolve(ctx, call.Role, call.Extensions)
	if err != nil {
		err = task.NewError(task.CodeReasoningUnavailable, "specialist resolution failed", err)
		g.finish(span, call.Role, err)
		return Response{}, err
	}

	req := Request{
		Role:        string(call.Role),
		Model:       g.model(entry.Tier),
		System:      entry.Instructions,
		Prompt:      call.Prompt,
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
		JSON:        call.Schema != nil,
	}
	if call.Schema != nil {
		req.System += "\n\nRespond only with a JSON object matching this schema:\n" + call.Schema.String()
	}
	span.SetAttributes(telemetry.String(telemetry.KeyModel, req.Model), telemetry.String(telemetry.KeySpecialist, entry.Name))

	attempt := 0
	resp, err := g.executor.Execute(ctx, func(ctx context.Context) (Response, error) {
		attempt++
		resp, err := g.attempt(ctx, req, call.Schema)
		if err != nil {
			logging.Warn().
				Add(logging.Role(req.Role)).
				Add(logging.Provider(g.provider.Name())).
				Add(logging.Attempt(attempt)).
				Add(logging.Code(string(task.CodeOf(err)))).
				Add(logging.ErrorField(err)).
				Msg("reasoning call failed")
		}
		return resp, err
	})
	if err != nil {
		err = classify(ctx, err)
		g.finish(span, call.Role, err)
		return Response{}, err
	}

	resp.Specialist = entry.Name
	g.finish(span, call.Role, nil)
	return resp, nil
}

func (g *Gateway) attempt(ctx context.Context, req Request, schema *Schema) (Response, error) {
	callCtx := ctx
	if g.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.config.AttemptTimeout)
		defer cancel()
	}

	text, err := g.provider.Complete(callCtx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, resilience.Permanent(ctxErr)
		}
		// Detach the cause so an attempt deadline stays retryable.
		return Response{}, task.NewError(task.CodeReasoningUnavailable, "reasoning provider unavailable", errors.New(err.Error()))
	}

	resp := Response{Text: text, Model: req.Model}
	if schema == nil {
		return resp, nil
	}

	raw, err := schema.Decode(text)
	if err != nil {
		return Response{}, task.NewError(task.CodeMalformedOutput,
			fmt.Sprintf("%s output did not match %s", req.Role, schema.Name()), err)
	}
	resp.Raw = raw
	return resp, nil
}

// classify maps executor errors onto caller-visible codes.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return task.NewError(task.CodeCancelled, "reasoning call cancelled", ctxErr)
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return task.NewError(task.CodeReasoningUnavailable, "reasoning provider circuit open", err)
	}
	var coded *task.Error
	if errors.As(err, &coded) {
		return coded
	}
	return task.NewError(task.CodeReasoningUnavailable, "reasoning provider unavailable", err)
}

func (g *Gateway) finish(span telemetry.Span, role specialist.Role, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(task.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(telemetry.StatusCodeError, outcome)
	} else {
		span.SetStatus(telemetry.StatusCodeOK, "")
	}
	if g.recorder != nil {
		g.recorder.ObserveGatewayCall(string(role), outcome)
	}
}

// model maps a tier to a model name, falling back to the standard tier.
func (g *Gateway) model(tier specialist.Tier) string {
	if m, ok := g.config.Models[tier]; ok && m != "" {
		return m
	}
	return g.config.Models[specialist.TierStandard]
}

// Invoker issues reasoning calls. *Gateway implements it.
type Invoker interface {
	Invoke(ctx context.Context, call Call) (Response, error)
}

// InvokeAs invokes g with schema and decodes the validated object into T.
func InvokeAs[T any](ctx context.Context, g Invoker, call Call, schema *Schema) (T, error) {
	call.Schema = schema
	resp, err := g.Invoke(ctx, call)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := Decode[T](resp)
	if err != nil {
		return out, task.NewError(task.CodeMalformedOutput, fmt.Sprintf("%s output could not be decoded", call.Role), err)
	}
	return out, nil
}
