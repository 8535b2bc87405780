package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// Path is the JSON path to the invalid field.
	Path string
	// Message describes the validation error.
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d validation errors:\n  - %s", len(e), strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates engine configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *EngineConfig) ValidationErrors {
	v.errors = nil

	v.validateRequired(config)
	v.validateGateway(config)
	v.validateLoop(config)
	v.validateExecution(config)
	v.validateStores(config)
	v.validateLogging(config)
	v.validateNotifications(config)
	if config.Audit.MaxEvents < 0 {
		v.addError("audit.max_events", "max_events must be non-negative")
	}

	return v.errors
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) oneOf(path, value string, allowed ...string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.addError(path, fmt.Sprintf("invalid value %q (allowed: %s)", value, strings.Join(allowed, ", ")))
}

func (v *Validator) validateRequired(config *EngineConfig) {
	if config.Name == "" {
		v.addError("name", "name is required")
	}
	if config.Version == "" {
		v.addError("version", "version is required")
	}
}

func (v *Validator) validateGateway(config *EngineConfig) {
	g := config.Gateway
	if g.Provider == "" {
		v.addError("gateway.provider", "provider is required")
	}
	v.oneOf("gateway.provider", g.Provider, "openai", "anthropic", "scripted")
	if (g.Provider == "openai" || g.Provider == "anthropic") && g.APIKey == "" {
		v.addError("gateway.api_key", "api_key is required for "+g.Provider)
	}
	if g.Provider == "scripted" && g.Script == "" {
		v.addError("gateway.script", "script is required for the scripted provider")
	}
	for tier := range g.Models {
		v.oneOf("gateway.models."+tier, tier, "fast", "standard", "advanced")
	}
	if g.Timeout < 0 {
		v.addError("gateway.timeout", "timeout must be non-negative")
	}
	if g.BreakerThreshold < 0 {
		v.addError("gateway.breaker_threshold", "breaker_threshold must be non-negative")
	}
}

func (v *Validator) validateLoop(config *EngineConfig) {
	if config.Loop.MaxIterations < 0 {
		v.addError("loop.max_iterations", "max_iterations must be non-negative")
	}
	v.oneOf("loop.blocked_policy", config.Loop.BlockedPolicy, "fail", "execute")
}

func (v *Validator) validateExecution(config *EngineConfig) {
	e := config.Execution
	v.oneOf("execution.provider", e.Provider, "process", "wasm", "noop")
	if e.Timeout < 0 {
		v.addError("execution.timeout", "timeout must be non-negative")
	}
	if e.Provider == "wasm" && e.WASMModule == "" {
		v.addError("execution.wasm_module", "wasm_module is required for the wasm provider")
	}
	if e.MaxConcurrent < 0 {
		v.addError("execution.max_concurrent", "max_concurrent must be non-negative")
	}
}

func (v *Validator) validateStores(config *EngineConfig) {
	s := config.Stores
	v.oneOf("stores.relationship.type", s.Relationship.Type, "memory", "postgres", "sqlite")
	v.oneOf("stores.semantic.type", s.Semantic.Type, "memory", "chromem")
	v.oneOf("stores.secrets.type", s.Secrets.Type, "memory", "redis")
	v.oneOf("stores.journal.type", s.Journal.Type, "none", "memory", "badger", "nats")

	needsDSN := map[string]StoreBackend{
		"stores.relationship.dsn": s.Relationship,
		"stores.secrets.dsn":      s.Secrets,
		"stores.journal.dsn":      s.Journal,
	}
	if s.Journal.Retention < 0 {
		v.addError("stores.journal.retention", "retention must be non-negative")
	}
	for path, backend := range needsDSN {
		switch backend.Type {
		case "postgres", "sqlite", "redis", "nats":
			if backend.DSN == "" {
				v.addError(path, "dsn is required for "+backend.Type)
			}
		}
	}
}

func (v *Validator) validateLogging(config *EngineConfig) {
	v.oneOf("logging.level", config.Logging.Level, "trace", "debug", "info", "warn", "error")
	v.oneOf("logging.format", config.Logging.Format, "json", "console")
}

func (v *Validator) validateNotifications(config *EngineConfig) {
	for i, w := range config.Notifications.Webhooks {
		path := fmt.Sprintf("notifications.webhooks[%d].url", i)
		if w.URL == "" {
			v.addError(path, "url is required")
			continue
		}
		u, err := url.Parse(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.addError(path, "url must be an absolute http or https URL")
		}
	}
}
