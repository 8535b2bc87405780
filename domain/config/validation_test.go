package config

import (
	"strings"
	"testing"
)

func validConfig() *EngineConfig {
	cfg := Default()
	cfg.Gateway.APIKey = "sk-test"
	return cfg
}

func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*EngineConfig)
		wantPath string
	}{
		{"valid", func(*EngineConfig) {}, ""},
		{"missing name", func(c *EngineConfig) { c.Name = "" }, "name"},
		{"missing provider", func(c *EngineConfig) { c.Gateway.Provider = "" }, "gateway.provider"},
		{"unknown provider", func(c *EngineConfig) { c.Gateway.Provider = "gemini" }, "gateway.provider"},
		{"scripted without script", func(c *EngineConfig) { c.Gateway.Provider = "scripted" }, "gateway.script"},
		{"unknown tier", func(c *EngineConfig) { c.Gateway.Models["huge"] = "x" }, "gateway.models.huge"},
		{"negative iterations", func(c *EngineConfig) { c.Loop.MaxIterations = -1 }, "loop.max_iterations"},
		{"unknown blocked policy", func(c *EngineConfig) { c.Loop.BlockedPolicy = "retry" }, "loop.blocked_policy"},
		{"wasm without module", func(c *EngineConfig) { c.Execution.Provider = "wasm" }, "execution.wasm_module"},
		{"unknown store", func(c *EngineConfig) { c.Stores.Semantic.Type = "pinecone" }, "stores.semantic.type"},
		{"postgres without dsn", func(c *EngineConfig) { c.Stores.Relationship.Type = "postgres" }, "stores.relationship.dsn"},
		{"nats without dsn", func(c *EngineConfig) { c.Stores.Journal.Type = "nats" }, "stores.journal.dsn"},
		{"bad log level", func(c *EngineConfig) { c.Logging.Level = "loud" }, "logging.level"},
		{"negative audit size", func(c *EngineConfig) { c.Audit.MaxEvents = -1 }, "audit.max_events"},
		{"webhook without url", func(c *EngineConfig) {
			c.Notifications.Webhooks = []WebhookConfig{{Secret: "s"}}
		}, "notifications.webhooks[0].url"},
		{"webhook with relative url", func(c *EngineConfig) {
			c.Notifications.Webhooks = []WebhookConfig{{URL: "https://ok.example"}, {URL: "/hooks"}}
		}, "notifications.webhooks[1].url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)
			errs := NewValidator().Validate(cfg)

			if tt.wantPath == "" {
				if errs.HasErrors() {
					t.Errorf("Validate() = %v, want no errors", errs)
				}
				return
			}
			for _, e := range errs {
				if e.Path == tt.wantPath {
					return
				}
			}
			t.Errorf("Validate() = %v, want error at %s", errs, tt.wantPath)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Parallel()

	if got := (ValidationErrors{}).Error(); got != "no validation errors" {
		t.Errorf("Error() = %q", got)
	}
	one := ValidationErrors{{Path: "gateway.provider", Message: "provider is required"}}
	if got := one.Error(); got != "gateway.provider: provider is required" {
		t.Errorf("Error() = %q", got)
	}
	two := append(one, ValidationError{Message: "bad"})
	if !strings.HasPrefix(two.Error(), "2 validation errors") {
		t.Errorf("Error() = %q", two.Error())
	}
}
