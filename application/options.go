package application

import (
	"time"

	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/domain/knowledge"
	"github.com/felixgeelhaar/roundtable/domain/telemetry"
	"github.com/felixgeelhaar/roundtable/domain/vault"
	"github.com/felixgeelhaar/roundtable/infrastructure/security/sandbox"
)

// Option configures the engine.
type Option func(*EngineConfig)

// WithGateway sets the reasoning gateway.
func WithGateway(g Reasoner) Option {
	return func(c *EngineConfig) {
		c.Gateway = g
	}
}

// WithRelationshipStore sets the relationship store.
func WithRelationshipStore(s knowledge.RelationshipStore) Option {
	return func(c *EngineConfig) {
		c.Relationships = s
	}
}

// WithSemanticStore sets the semantic store.
func WithSemanticStore(s knowledge.SemanticStore) Option {
	return func(c *EngineConfig) {
		c.Semantic = s
	}
}

// WithSecretStore sets the secret store.
func WithSecretStore(s vault.Store) Option {
	return func(c *EngineConfig) {
		c.Secrets = s
	}
}

// WithSandbox sets the sandbox provider.
func WithSandbox(p sandbox.Provider) Option {
	return func(c *EngineConfig) {
		c.Sandbox = p
	}
}

// WithMaxIterations sets the plan attempt budget.
func WithMaxIterations(n int) Option {
	return func(c *EngineConfig) {
		c.MaxIterations = n
	}
}

// WithBlockedPolicy sets what happens when the plan budget is exhausted.
func WithBlockedPolicy(p BlockedPolicy) Option {
	return func(c *EngineConfig) {
		c.BlockedPolicy = p
	}
}

// WithExecutionTimeout sets the wall-clock budget of one sandbox run.
func WithExecutionTimeout(d time.Duration) Option {
	return func(c *EngineConfig) {
		c.ExecutionTimeout = d
	}
}

// WithDeterministicScript runs ScriptFromSteps instead of asking the coder
// specialist to turn plan steps into a script.
func WithDeterministicScript(enabled bool) Option {
	return func(c *EngineConfig) {
		c.DeterministicScript = enabled
	}
}

// WithSinks attaches event sinks to every invocation's bus.
func WithSinks(sinks ...event.Sink) Option {
	return func(c *EngineConfig) {
		c.Sinks = append(c.Sinks, sinks...)
	}
}

// WithJournal sets the journal runs are replayed from.
func WithJournal(j event.Journal) Option {
	return func(c *EngineConfig) {
		c.Journal = j
	}
}

// WithBufferSize sets the per-subscriber event buffer.
func WithBufferSize(n int) Option {
	return func(c *EngineConfig) {
		c.BufferSize = n
	}
}

// WithTracer sets the tracer used for stage spans.
func WithTracer(t telemetry.Tracer) Option {
	return func(c *EngineConfig) {
		c.Tracer = t
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *EngineConfig) {
		c.Metrics = r
	}
}

// NewEngineWithOptions creates an engine with functional options.
func NewEngineWithOptions(opts ...Option) (*Engine, error) {
	config := EngineConfig{}
	for _, opt := range opts {
		opt(&config)
	}
	return NewEngine(config)
}
