// Package api is the embedding entry point: it turns an EngineConfig into a
// Runtime with every store, sink and provider wired up.
package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/roundtable"
	"github.com/felixgeelhaar/roundtable/application"
	domainconfig "github.com/felixgeelhaar/roundtable/domain/config"
	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/domain/knowledge"
	"github.com/felixgeelhaar/roundtable/domain/specialist"
	"github.com/felixgeelhaar/roundtable/domain/telemetry"
	"github.com/felixgeelhaar/roundtable/domain/vault"
	"github.com/felixgeelhaar/roundtable/infrastructure/embedding"
	"github.com/felixgeelhaar/roundtable/infrastructure/eventbus"
	"github.com/felixgeelhaar/roundtable/infrastructure/gateway"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
	"github.com/felixgeelhaar/roundtable/infrastructure/notification"
	"github.com/felixgeelhaar/roundtable/infrastructure/observability"
	"github.com/felixgeelhaar/roundtable/infrastructure/security/audit"
	"github.com/felixgeelhaar/roundtable/infrastructure/security/sandbox"
	specialistreg "github.com/felixgeelhaar/roundtable/infrastructure/specialist"
	badgerstore "github.com/felixgeelhaar/roundtable/infrastructure/storage/badger"
	chromemstore "github.com/felixgeelhaar/roundtable/infrastructure/storage/chromem"
	"github.com/felixgeelhaar/roundtable/infrastructure/storage/memory"
	natsstore "github.com/felixgeelhaar/roundtable/infrastructure/storage/nats"
	"github.com/felixgeelhaar/roundtable/infrastructure/storage/postgres"
	redisstore "github.com/felixgeelhaar/roundtable/infrastructure/storage/redis"
	"github.com/felixgeelhaar/roundtable/infrastructure/storage/sqlite"
)

// pingTimeout bounds one store reachability check.
const pingTimeout = 3 * time.Second

// Runtime holds a fully wired engine and the components it was built from.
type Runtime struct {
	Config        *EngineConfig
	Engine        *application.Engine
	Gateway       *gateway.Gateway
	Registry      *specialistreg.Registry
	Relationships knowledge.RelationshipStore
	Semantic      knowledge.SemanticStore
	Secrets       vault.Store
	Journal       event.Journal
	Metrics       *observability.Metrics
	Tracer        telemetry.Tracer
	// Audit is nil when auditing is disabled.
	Audit         audit.Logger

	pingers map[string]knowledge.Pinger
	mu      sync.Mutex
	closers []func(context.Context) error
	closed  bool
}

// BuildOption overrides a component the configuration would otherwise select.
type BuildOption func(*buildOptions)

type buildOptions struct {
	provider gateway.Provider
	sandbox  sandbox.Provider
	metrics  *observability.Metrics
}

// WithProvider replaces the configured reasoning provider.
func WithProvider(p gateway.Provider) BuildOption {
	return func(o *buildOptions) {
		o.provider = p
	}
}

// WithSandboxProvider replaces the configured sandbox provider. It is still
// wrapped by the concurrency limit.
func WithSandboxProvider(p sandbox.Provider) BuildOption {
	return func(o *buildOptions) {
		o.sandbox = p
	}
}

// WithMetrics uses m instead of a fresh metrics registry.
func WithMetrics(m *observability.Metrics) BuildOption {
	return func(o *buildOptions) {
		o.metrics = m
	}
}

// Build wires stores, gateway, specialist registry, sandbox, journal,
// tracing and metrics from cfg. On error, everything opened so far is
// released.
func Build(ctx context.Context, cfg *EngineConfig, opts ...BuildOption) (rt *Runtime, err error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	built := &Runtime{Config: cfg, pingers: make(map[string]knowledge.Pinger)}
	defer func() {
		if err != nil {
			_ = built.Close(context.WithoutCancel(ctx))
			err = fmt.Errorf("%w: %w", domainconfig.ErrBuildFailed, err)
		}
	}()
	rt = built

	if err := rt.buildObservability(cfg, o.metrics); err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	if err := rt.buildStores(ctx, cfg); err != nil {
		return nil, err
	}
	if err := rt.buildGateway(ctx, cfg, o.provider); err != nil {
		return nil, err
	}

	box, err := rt.buildSandbox(ctx, cfg.Execution, o.sandbox)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	if err := rt.buildAudit(cfg.Audit); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if rt.Audit != nil {
		box = audit.WrapSandbox(box, rt.Audit)
		rt.Secrets = audit.WrapVault(rt.Secrets, rt.Audit)
	}

	sinks, err := rt.buildJournal(ctx, cfg.Stores.Journal)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	hooks, err := buildNotifications(cfg.Notifications)
	if err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}
	sinks = append(sinks, hooks...)

	policy, err := application.ParseBlockedPolicy(cfg.Loop.BlockedPolicy)
	if err != nil {
		return nil, err
	}

	engineOpts := []application.Option{
		application.WithGateway(rt.Gateway),
		application.WithRelationshipStore(rt.Relationships),
		application.WithSemanticStore(rt.Semantic),
		application.WithSecretStore(rt.Secrets),
		application.WithSandbox(box),
		application.WithMaxIterations(cfg.Loop.MaxIterations),
		application.WithBlockedPolicy(policy),
		application.WithExecutionTimeout(cfg.Execution.Timeout.Duration()),
		application.WithDeterministicScript(cfg.Execution.DeterministicScript),
		application.WithSinks(sinks...),
		application.WithTracer(rt.Tracer),
		application.WithRecorder(rt.Metrics),
	}
	if rt.Journal != nil {
		engineOpts = append(engineOpts, application.WithJournal(rt.Journal))
	}

	rt.Engine, err = application.NewEngineWithOptions(engineOpts...)
	if err != nil {
		return nil, err
	}

	logging.Info().
		Add(logging.Component("runtime")).
		Add(logging.Provider(rt.Gateway.Provider().Name())).
		Add(logging.Str("sandbox", box.Name())).
		Add(logging.Str("relationship", cfg.Stores.Relationship.Type)).
		Add(logging.Str("semantic", cfg.Stores.Semantic.Type)).
		Add(logging.Str("secrets", cfg.Stores.Secrets.Type)).
		Add(logging.Str("journal", cfg.Stores.Journal.Type)).
		Add(logging.Int("webhooks", len(cfg.Notifications.Webhooks))).
		Msg("runtime built")
	return rt, nil
}

func (rt *Runtime) onClose(fn func(context.Context) error) {
	rt.mu.Lock()
	rt.closers = append(rt.closers, fn)
	rt.mu.Unlock()
}

func (rt *Runtime) buildObservability(cfg *EngineConfig, metrics *observability.Metrics) error {
	obs := cfg.Observability
	opts := []observability.Option{
		observability.WithServiceName("roundtable"),
		observability.WithServiceVersion(roundtable.Version),
		observability.WithTracing(observability.ExporterType(obs.Tracing), obs.Endpoint),
	}
	if obs.Insecure {
		opts = append(opts, observability.WithTracingInsecure())
	}
	if obs.SampleRate > 0 {
		opts = append(opts, observability.WithSampleRate(obs.SampleRate))
	}

	provider, err := observability.New(opts...)
	if err != nil {
		return err
	}
	rt.onClose(provider.Shutdown)
	rt.Tracer = provider.Tracer()

	if metrics == nil {
		metrics, err = observability.NewMetrics()
		if err != nil {
			return err
		}
	}
	rt.Metrics = metrics
	return nil
}

func (rt *Runtime) buildStores(ctx context.Context, cfg *EngineConfig) error {
	stores := cfg.Stores

	switch stores.Relationship.Type {
	case "", "memory":
		s := memory.NewRelationshipStore()
		rt.Relationships = s
		rt.pingers["relationship"] = s
	case "postgres":
		pgCfg := postgres.DefaultConfig()
		pgCfg.DSN = stores.Relationship.DSN
		if stores.Relationship.Prefix != "" {
			pgCfg.Schema = stores.Relationship.Prefix
		}
		pool, err := postgres.Open(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("relationship store: %w", err)
		}
		rt.onClose(func(context.Context) error { pool.Close(); return nil })
		s := postgres.NewRelationshipStore(pool, pgCfg.Schema)
		if err := s.Migrate(ctx); err != nil {
			return fmt.Errorf("relationship store: %w", err)
		}
		rt.Relationships = s
		rt.pingers["relationship"] = s
	case "sqlite":
		s, err := sqlite.NewRelationshipStore(sqlite.DefaultConfig(), sqlite.WithDSN(stores.Relationship.DSN))
		if err != nil {
			return fmt.Errorf("relationship store: %w", err)
		}
		rt.onClose(func(context.Context) error { return s.Close() })
		rt.Relationships = s
		rt.pingers["relationship"] = s
	default:
		return fmt.Errorf("unknown relationship store %q", stores.Relationship.Type)
	}

	embed := rt.embedder(cfg.Gateway)
	switch stores.Semantic.Type {
	case "", "memory":
		s := memory.NewSemanticStore(embed)
		rt.Semantic = s
		rt.pingers["semantic"] = s
	case "chromem":
		s, err := chromemstore.NewSemanticStore(chromemstore.Config{
			PersistPath: stores.Semantic.DSN,
			Collection:  stores.Semantic.Prefix,
		}, embed)
		if err != nil {
			return fmt.Errorf("semantic store: %w", err)
		}
		rt.Semantic = s
		rt.pingers["semantic"] = s
	default:
		return fmt.Errorf("unknown semantic store %q", stores.Semantic.Type)
	}

	switch stores.Secrets.Type {
	case "", "memory":
		s := memory.NewSecretStore()
		rt.Secrets = s
		rt.pingers["secrets"] = s
	case "redis":
		redisOpts := []redisstore.ConfigOption{redisstore.WithDSN(stores.Secrets.DSN)}
		if stores.Secrets.Password != "" {
			redisOpts = append(redisOpts, redisstore.WithPassword(stores.Secrets.Password))
		}
		if stores.Secrets.Prefix != "" {
			redisOpts = append(redisOpts, redisstore.WithKeyPrefix(stores.Secrets.Prefix))
		}
		s, err := redisstore.NewSecretStore(redisstore.DefaultConfig(), redisOpts...)
		if err != nil {
			return fmt.Errorf("secret store: %w", err)
		}
		rt.onClose(func(context.Context) error { return s.Close() })
		rt.Secrets = s
		rt.pingers["secrets"] = s
	default:
		return fmt.Errorf("unknown secret store %q", stores.Secrets.Type)
	}
	return nil
}

// embedder uses OpenAI embeddings when an OpenAI key is configured and the
// local hashing embedder otherwise.
func (rt *Runtime) embedder(g GatewayConfig) embedding.Func {
	if g.Provider != "openai" || g.APIKey == "" {
		return embedding.Hashing(embedding.DefaultDimension)
	}
	cached, err := embedding.Cached(embedding.OpenAI(g.APIKey), 1024)
	if err != nil {
		return embedding.OpenAI(g.APIKey)
	}
	return cached
}

func (rt *Runtime) buildGateway(ctx context.Context, cfg *EngineConfig, provider gateway.Provider) error {
	g := cfg.Gateway

	registry, err := specialistreg.NewRegistry(specialistreg.WithCacheSize(cfg.Specialists.CacheSize))
	if err != nil {
		return fmt.Errorf("specialist registry: %w", err)
	}
	if file := cfg.Specialists.File; file != "" {
		if err := registry.LoadFile(file); err != nil {
			return fmt.Errorf("specialist registry: %w", err)
		}
		if cfg.Specialists.Watch {
			watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			rt.onClose(func(context.Context) error { cancel(); return nil })
			go func() {
				if err := registry.Watch(watchCtx, file); err != nil {
					logging.Warn().
						Add(logging.Component("specialist")).
						Add(logging.ErrorField(err)).
						Msg("specialist file watch stopped")
				}
			}()
		}
	}
	rt.Registry = registry

	if provider == nil {
		switch g.Provider {
		case "openai":
			provider = gateway.NewOpenAIProvider(gateway.OpenAIConfig{
				APIKey:  g.APIKey,
				BaseURL: g.BaseURL,
				Timeout: g.Timeout.Duration(),
			})
		case "anthropic":
			provider = gateway.NewAnthropicProvider(gateway.AnthropicConfig{
				APIKey:  g.APIKey,
				BaseURL: g.BaseURL,
				Timeout: g.Timeout.Duration(),
			})
		case "scripted":
			scripted, err := gateway.LoadScriptFile(g.Script)
			if err != nil {
				return fmt.Errorf("gateway: %w", err)
			}
			provider = scripted
		default:
			return fmt.Errorf("unknown gateway provider %q", g.Provider)
		}
	}

	gwCfg := gateway.DefaultConfig()
	for tier, model := range g.Models {
		gwCfg.Models[specialist.Tier(tier)] = model
	}
	if g.Temperature > 0 {
		gwCfg.Temperature = g.Temperature
	}
	if g.MaxTokens > 0 {
		gwCfg.MaxTokens = g.MaxTokens
	}
	if g.Timeout > 0 {
		gwCfg.AttemptTimeout = g.Timeout.Duration()
	}
	if g.RetryDelay > 0 {
		gwCfg.RetryDelay = g.RetryDelay.Duration()
	}
	gwCfg.BreakerThreshold = g.BreakerThreshold
	if g.BreakerTimeout > 0 {
		gwCfg.BreakerTimeout = g.BreakerTimeout.Duration()
	}

	rt.Gateway = gateway.New(provider, registry, gwCfg,
		gateway.WithTracer(rt.Tracer),
		gateway.WithRecorder(rt.Metrics),
	)
	registry.SetSynthesizer(rt.Gateway.Synthesizer())
	return nil
}

func (rt *Runtime) buildSandbox(ctx context.Context, e ExecutionConfig, override sandbox.Provider) (sandbox.Provider, error) {
	var opts []sandbox.Option
	if len(e.Interpreter) > 0 {
		opts = append(opts, sandbox.WithInterpreter(e.Interpreter...))
	}
	if e.MaxMemory > 0 {
		opts = append(opts, sandbox.WithMaxMemory(e.MaxMemory))
	}

	provider := override
	if provider == nil {
		switch e.Provider {
		case "", "process":
			p, err := sandbox.NewProcess(opts...)
			if err != nil {
				return nil, err
			}
			provider = p
		case "wasm":
			p, err := sandbox.NewWASMFromFile(ctx, e.WASMModule, opts...)
			if err != nil {
				return nil, err
			}
			rt.onClose(p.Close)
			provider = p
		case "noop":
			provider = sandbox.NewNoop(nil)
		default:
			return nil, fmt.Errorf("unknown sandbox provider %q", e.Provider)
		}
	}
	return sandbox.Limit(provider, e.MaxConcurrent), nil
}

// buildJournal opens the configured journal and returns the sinks that
// feed it. A nats journal also forwards every event in its wire shape.
func (rt *Runtime) buildJournal(ctx context.Context, j StoreBackend) ([]event.Sink, error) {
	switch j.Type {
	case "", "none":
		return nil, nil
	case "memory":
		rt.Journal = memory.NewJournal()
	case "badger":
		opts := []badgerstore.Option{badgerstore.WithInMemory()}
		if j.DSN != "" {
			opts = []badgerstore.Option{badgerstore.WithDir(j.DSN)}
		}
		if j.Prefix != "" {
			opts = append(opts, badgerstore.WithKeyPrefix(j.Prefix))
		}
		if j.Retention > 0 {
			opts = append(opts, badgerstore.WithTTL(j.Retention.Duration()))
		}
		journal, err := badgerstore.NewJournal(badgerstore.DefaultConfig(), opts...)
		if err != nil {
			return nil, err
		}
		rt.Journal = journal
		rt.pingers["journal"] = journal
	case "nats":
		client, err := natsstore.Connect(ctx, j.DSN, j.Prefix)
		if err != nil {
			return nil, err
		}
		rt.onClose(func(context.Context) error { return client.Close() })

		prefix := j.Prefix
		if prefix == "" {
			prefix = natsstore.DefaultSubjectPrefix
		}
		journal, err := natsstore.NewJournal(natsstore.Config{Client: client, SubjectPrefix: prefix})
		if err != nil {
			return nil, err
		}
		forwarder, err := natsstore.NewForwarder(natsstore.Config{Client: client, SubjectPrefix: prefix + ".wire"})
		if err != nil {
			return nil, err
		}
		rt.Journal = journal
		rt.pingers["journal"] = journal
		return []event.Sink{eventbus.NewJournalSink(journal, eventbus.WithBatchSize(16)), forwarder}, nil
	default:
		return nil, fmt.Errorf("unknown journal %q", j.Type)
	}

	journal := rt.Journal
	rt.onClose(func(context.Context) error { return journal.Close() })
	return []event.Sink{eventbus.NewJournalSink(journal, eventbus.WithBatchSize(16))}, nil
}

// buildAudit opens the audit trail: a bounded in-memory log, plus a JSON
// lines file when one is configured.
func (rt *Runtime) buildAudit(a AuditConfig) error {
	if !a.Enabled {
		return nil
	}
	var opts []audit.MemoryLoggerOption
	if a.MaxEvents > 0 {
		opts = append(opts, audit.WithMaxEvents(a.MaxEvents))
	}
	loggers := []audit.Logger{audit.NewMemoryLogger(opts...)}
	if a.File != "" {
		f, err := os.OpenFile(a.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		loggers = append(loggers, audit.NewJSONLogger(f))
	}
	logger := audit.NewMultiLogger(loggers...)
	rt.Audit = logger
	rt.onClose(func(context.Context) error { return logger.Close() })
	return nil
}

// buildNotifications returns a webhook sink when any webhook is configured.
func buildNotifications(n NotificationsConfig) ([]event.Sink, error) {
	if len(n.Webhooks) == 0 {
		return nil, nil
	}
	subs := make([]notification.Subscription, 0, len(n.Webhooks))
	for _, w := range n.Webhooks {
		subs = append(subs, notification.Subscription{
			Endpoint:  notification.Endpoint{URL: w.URL, Secret: w.Secret, Headers: w.Headers},
			AllEvents: w.AllEvents,
		})
	}
	sink, err := notification.NewWebhookSink(nil, subs...)
	if err != nil {
		return nil, err
	}
	return []event.Sink{sink}, nil
}

// Close releases every component in reverse build order. It is idempotent.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	closers := rt.closers
	rt.closers = nil
	rt.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Check is the reachability of one store.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health is the reachability report of every store.
type Health struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
}

// Health statuses.
const (
	StatusOperational   = "operational"
	StatusPartialOutage = "partial_outage"
	CheckConnected      = "connected"
	CheckError          = "error"
)

// Operational reports whether every store answered.
func (h Health) Operational() bool {
	return h.Status == StatusOperational
}

// Health pings every store concurrently.
func (rt *Runtime) Health(ctx context.Context) Health {
	names := make([]string, 0, len(rt.pingers))
	for name := range rt.pingers {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]Check, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		pinger := rt.pingers[name]
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, pingTimeout)
			defer cancel()
			if err := pinger.Ping(pctx); err != nil {
				results[i] = Check{Status: CheckError, Message: err.Error()}
				return nil
			}
			results[i] = Check{Status: CheckConnected}
			return nil
		})
	}
	_ = g.Wait()

	h := Health{Status: StatusOperational, Timestamp: time.Now().UTC(), Checks: make(map[string]Check, len(names))}
	for i, name := range names {
		h.Checks[name] = results[i]
		if results[i].Status != CheckConnected {
			h.Status = StatusPartialOutage
		}
	}
	return h
}
