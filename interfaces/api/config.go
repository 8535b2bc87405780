package api

import (
	domainconfig "github.com/felixgeelhaar/roundtable/domain/config"
	infraconfig "github.com/felixgeelhaar/roundtable/infrastructure/config"
)

// Configuration types accepted by Build.
type (
	EngineConfig        = domainconfig.EngineConfig
	ServerConfig        = domainconfig.ServerConfig
	GatewayConfig       = domainconfig.GatewayConfig
	LoopConfig          = domainconfig.LoopConfig
	ExecutionConfig     = domainconfig.ExecutionConfig
	StoresConfig        = domainconfig.StoresConfig
	StoreBackend        = domainconfig.StoreBackend
	NotificationsConfig = domainconfig.NotificationsConfig
	WebhookConfig       = domainconfig.WebhookConfig
	AuditConfig         = domainconfig.AuditConfig
	ValidationErrors    = domainconfig.ValidationErrors

	ConfigLoader       = infraconfig.Loader
	ConfigLoaderOption = infraconfig.LoaderOption
)

const ConfigFormatYAML = infraconfig.FormatYAML

// Errors returned by the loader and Build. Match them with errors.Is.
var (
	ErrConfigNotFound   = domainconfig.ErrConfigNotFound
	ErrValidationFailed = domainconfig.ErrValidationFailed
	ErrMissingEnvVar    = domainconfig.ErrMissingEnvVar
	ErrBuildFailed      = domainconfig.ErrBuildFailed
)

// NewConfigLoader returns a loader that expands ${VAR} references and
// validates the result.
func NewConfigLoader() *ConfigLoader { return infraconfig.NewLoader() }

func NewConfigLoaderWithOptions(opts ...ConfigLoaderOption) *ConfigLoader {
	return infraconfig.NewLoaderWithOptions(opts...)
}

func ConfigWithEnvExpansion(enabled bool) ConfigLoaderOption {
	return infraconfig.WithEnvExpansion(enabled)
}

// ConfigWithStrictEnv makes unset variables without a default an error.
func ConfigWithStrictEnv(enabled bool) ConfigLoaderOption {
	return infraconfig.WithStrictEnv(enabled)
}

func ConfigWithValidation(enabled bool) ConfigLoaderOption {
	return infraconfig.WithValidation(enabled)
}

func NewConfigValidator() *domainconfig.Validator { return domainconfig.NewValidator() }

// DefaultConfig returns a runnable configuration backed by in-memory stores.
func DefaultConfig() *EngineConfig { return domainconfig.Default() }

// ConfigSchemaJSON returns the JSON Schema of EngineConfig.
func ConfigSchemaJSON() (string, error) { return infraconfig.SchemaJSON() }
