// Package observability provides OpenTelemetry tracing and Prometheus metrics.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/felixgeelhaar/roundtable/domain/telemetry"
)

// ExporterType names a span exporter.
type ExporterType string

const (
	ExporterOTLP   ExporterType = "otlp"
	ExporterStdout ExporterType = "stdout"
	ExporterNoop   ExporterType = "noop"
)

const (
	batchTimeout   = 5 * time.Second
	maxExportBatch = 512
)

// Config configures tracing. An empty or noop exporter disables it.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Exporter       ExporterType
	Endpoint       string
	Insecure       bool
	SampleRate     float64
}

func (c Config) enabled() bool {
	return c.Exporter != "" && c.Exporter != ExporterNoop
}

// Option configures the provider.
type Option func(*Config)

// WithServiceName sets the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(c *Config) { c.ServiceName = name }
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(version string) Option {
	return func(c *Config) { c.ServiceVersion = version }
}

// WithTracing selects the exporter. endpoint is only used by OTLP.
func WithTracing(exporter ExporterType, endpoint string) Option {
	return func(c *Config) {
		c.Exporter = exporter
		c.Endpoint = endpoint
	}
}

// WithTracingInsecure disables TLS towards the OTLP collector.
func WithTracingInsecure() Option {
	return func(c *Config) { c.Insecure = true }
}

// WithSampleRate sets the head sampling ratio.
func WithSampleRate(rate float64) Option {
	return func(c *Config) { c.SampleRate = rate }
}

// Provider owns the tracer provider for one runtime.
type Provider struct {
	tracer   telemetry.Tracer
	shutdown []func(context.Context) error
}

// New creates a provider. Without an exporter it hands out a no-op tracer.
func New(opts ...Option) (*Provider, error) {
	cfg := Config{ServiceName: "roundtable", ServiceVersion: "dev", SampleRate: 1.0}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Provider{tracer: NewNoopTracer()}
	if !cfg.enabled() {
		return p, nil
	}

	exporter, err := newExporter(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(batchTimeout),
			sdktrace.WithMaxExportBatchSize(maxExportBatch),
		),
		// Not merged with resource.Default() to avoid schema URL conflicts.
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		)),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.tracer = NewOTelTracer(cfg.ServiceName)
	p.shutdown = append(p.shutdown, tp.Shutdown)
	return p, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
				otlptracegrpc.WithInsecure(),
			)
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, errors.Join(telemetry.ErrExporterFailed, err)
		}
		return exp, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, errors.Join(telemetry.ErrExporterFailed, err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("%w: unknown trace exporter %q", telemetry.ErrExporterFailed, cfg.Exporter)
	}
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns the tracer.
func (p *Provider) Tracer() telemetry.Tracer {
	return p.tracer
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{telemetry.ErrShutdownFailed}, errs...)...)
	}
	return nil
}
