// Package config provides domain models for engine configuration.
package config

import "time"

// EngineConfig represents the complete engine configuration.
type EngineConfig struct {
	// Name is a human-readable name for this deployment.
	Name string `json:"name" yaml:"name"`
	// Version is the configuration schema version.
	Version string `json:"version" yaml:"version"`

	// Server contains HTTP server settings.
	Server ServerConfig `json:"server,omitempty" yaml:"server,omitempty"`
	// Logging contains logger settings.
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
	// Observability contains tracing and metrics settings.
	Observability ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"`
	// Gateway contains reasoning provider settings.
	Gateway GatewayConfig `json:"gateway" yaml:"gateway"`
	// Loop contains plan/critique loop settings.
	Loop LoopConfig `json:"loop,omitempty" yaml:"loop,omitempty"`
	// Execution contains sandbox settings.
	Execution ExecutionConfig `json:"execution,omitempty" yaml:"execution,omitempty"`
	// Stores selects the external store backends.
	Stores StoresConfig `json:"stores,omitempty" yaml:"stores,omitempty"`
	// Specialists configures the specialist registry.
	Specialists SpecialistsConfig `json:"specialists,omitempty" yaml:"specialists,omitempty"`
	// Notifications configures outbound webhooks.
	Notifications NotificationsConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	// Audit configures the security audit trail.
	Audit AuditConfig `json:"audit,omitempty" yaml:"audit,omitempty"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Address is the listen address (default: :8080).
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	// AllowedOrigins lists CORS origins (empty allows all).
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
	// RateLimit is the number of executions allowed per user per second.
	RateLimit int `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	// RateBurst is the burst size of the per-user rate limit.
	RateBurst int `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty"`
	// HeartbeatInterval is how often idle streams receive a keep-alive comment.
	HeartbeatInterval Duration `json:"heartbeat_interval,omitempty" yaml:"heartbeat_interval,omitempty"`
	// Mode is the gin mode (debug, release, test).
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format is json or console.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// ObservabilityConfig contains tracing and metrics settings.
type ObservabilityConfig struct {
	// Tracing selects the trace exporter: otlp, stdout or noop.
	Tracing string `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	// Endpoint is the OTLP endpoint.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	// Insecure disables TLS for the OTLP connection.
	Insecure bool `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	// SampleRate is the trace sampling rate (0.0-1.0).
	SampleRate float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	// Metrics enables the Prometheus /metrics endpoint.
	Metrics bool `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// GatewayConfig contains reasoning provider settings.
type GatewayConfig struct {
	// Provider is openai, anthropic or scripted.
	Provider string `json:"provider" yaml:"provider"`
	// APIKey is the provider API key.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// Models maps model tiers (fast, standard, advanced) to model names.
	Models map[string]string `json:"models,omitempty" yaml:"models,omitempty"`
	// Temperature is the sampling temperature.
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	// MaxTokens caps the response length.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	// Timeout bounds one provider call.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// RetryDelay is the delay before the single retry.
	RetryDelay Duration `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	// BreakerThreshold is the number of consecutive failures that opens the circuit.
	BreakerThreshold int `json:"breaker_threshold,omitempty" yaml:"breaker_threshold,omitempty"`
	// BreakerTimeout is how long the circuit stays open.
	BreakerTimeout Duration `json:"breaker_timeout,omitempty" yaml:"breaker_timeout,omitempty"`
	// Script is the scripted provider's response file (scripted provider only).
	Script string `json:"script,omitempty" yaml:"script,omitempty"`
}

// LoopConfig contains plan/critique loop settings.
type LoopConfig struct {
	// MaxIterations caps plan attempts (default: 3).
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	// BlockedPolicy is fail or execute.
	BlockedPolicy string `json:"blocked_policy,omitempty" yaml:"blocked_policy,omitempty"`
}

// ExecutionConfig contains sandbox settings.
type ExecutionConfig struct {
	// Provider is process, wasm or noop.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	// Timeout is the wall-clock budget of one execution (default: 60s).
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Interpreter is the command used by the process provider (default: python3).
	Interpreter []string `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	// WASMModule is the WASI interpreter module used by the wasm provider.
	WASMModule string `json:"wasm_module,omitempty" yaml:"wasm_module,omitempty"`
	// MaxMemory caps sandbox memory in bytes.
	MaxMemory int64 `json:"max_memory,omitempty" yaml:"max_memory,omitempty"`
	// MaxConcurrent caps concurrent sandboxes across invocations.
	MaxConcurrent int `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	// DeterministicScript skips the coder specialist and runs ScriptFromSteps,
	// which only executes steps written as "$ command".
	DeterministicScript bool `json:"deterministic_script,omitempty" yaml:"deterministic_script,omitempty"`
}

// StoresConfig selects the external store backends.
type StoresConfig struct {
	// Relationship is memory, postgres or sqlite.
	Relationship StoreBackend `json:"relationship,omitempty" yaml:"relationship,omitempty"`
	// Semantic is memory or chromem.
	Semantic StoreBackend `json:"semantic,omitempty" yaml:"semantic,omitempty"`
	// Secrets is memory or redis.
	Secrets StoreBackend `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	// Journal is none, memory, badger or nats.
	Journal StoreBackend `json:"journal,omitempty" yaml:"journal,omitempty"`
}

// StoreBackend configures one store backend.
type StoreBackend struct {
	// Type selects the backend.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	// DSN is the connection string, address or path.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	// Password authenticates to the backend (redis).
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	// Prefix namespaces keys, tables or subjects.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// Retention expires journaled events after this long (badger journal).
	Retention Duration `json:"retention,omitempty" yaml:"retention,omitempty"`
}

// SpecialistsConfig configures the specialist registry.
type SpecialistsConfig struct {
	// File is an optional YAML file of additional entries.
	File string `json:"file,omitempty" yaml:"file,omitempty"`
	// Watch reloads the file when it changes.
	Watch bool `json:"watch,omitempty" yaml:"watch,omitempty"`
	// CacheSize bounds the number of cached transient specialists.
	CacheSize int `json:"cache_size,omitempty" yaml:"cache_size,omitempty"`
}

// NotificationsConfig configures outbound webhooks.
type NotificationsConfig struct {
	Webhooks []WebhookConfig `json:"webhooks,omitempty" yaml:"webhooks,omitempty"`
}

// WebhookConfig is one webhook receiver.
type WebhookConfig struct {
	// URL is the http(s) endpoint.
	URL string `json:"url" yaml:"url"`
	// Secret signs deliveries with HMAC-SHA256 when set.
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`
	// Headers are added to every delivery.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// AllEvents delivers every stage event, not only the terminal one.
	AllEvents bool `json:"all_events,omitempty" yaml:"all_events,omitempty"`
}

// AuditConfig configures the security audit trail of sandbox runs and
// vault access.
type AuditConfig struct {
	// Enabled turns auditing on.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// File appends JSON lines to this path in addition to the in-memory trail.
	File string `json:"file,omitempty" yaml:"file,omitempty"`
	// MaxEvents bounds the in-memory trail (default: 1000).
	MaxEvents int `json:"max_events,omitempty" yaml:"max_events,omitempty"`
}

// Default returns a runnable configuration backed entirely by in-memory stores.
func Default() *EngineConfig {
	return &EngineConfig{
		Name:    "roundtable",
		Version: "1",
		Server: ServerConfig{
			Address:           ":8080",
			RateLimit:         5,
			RateBurst:         10,
			HeartbeatInterval: Duration(15 * time.Second),
			Mode:              "release",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Observability: ObservabilityConfig{
			Tracing:    "noop",
			SampleRate: 1.0,
			Metrics:    true,
		},
		Gateway: GatewayConfig{
			Provider:         "openai",
			Models:           map[string]string{"fast": "gpt-4o-mini", "standard": "gpt-4o", "advanced": "gpt-4o"},
			Temperature:      0.2,
			MaxTokens:        2048,
			Timeout:          Duration(60 * time.Second),
			RetryDelay:       Duration(250 * time.Millisecond),
			BreakerThreshold: 5,
			BreakerTimeout:   Duration(30 * time.Second),
		},
		Loop: LoopConfig{MaxIterations: 3, BlockedPolicy: "fail"},
		Execution: ExecutionConfig{
			Provider:      "process",
			Timeout:       Duration(60 * time.Second),
			Interpreter:   []string{"python3", "-c"},
			MaxMemory:     256 * 1024 * 1024,
			MaxConcurrent: 8,
		},
		Stores: StoresConfig{
			Relationship: StoreBackend{Type: "memory"},
			Semantic:     StoreBackend{Type: "memory"},
			Secrets:      StoreBackend{Type: "memory"},
			Journal:      StoreBackend{Type: "none"},
		},
		Specialists: SpecialistsConfig{CacheSize: 128},
		Audit:       AuditConfig{Enabled: true, MaxEvents: 1000},
	}
}

// Duration is a time.Duration that supports JSON/YAML string representation.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
