package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
	api "github.com/felixgeelhaar/roundtable/interfaces/api"
)

// apiKeyEnv names the variable consulted when a provider has no configured key.
var apiKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// loadConfig reads and validates the configuration.
func (a *App) loadConfig(strictEnv bool) (*api.EngineConfig, error) {
	cfg, err := a.readConfig(strictEnv)
	if err != nil {
		return nil, err
	}
	return checkConfig(cfg)
}

// readConfig reads the configuration file, or the built-in default when no
// file is given, and fills the provider key from the environment. The
// result is not validated so callers can apply overrides first.
func (a *App) readConfig(strictEnv bool) (*api.EngineConfig, error) {
	cfg := api.DefaultConfig()
	if a.configPath != "" {
		loader := api.NewConfigLoaderWithOptions(
			api.ConfigWithValidation(false),
			api.ConfigWithStrictEnv(strictEnv),
		)
		loaded, err := loader.LoadFile(a.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
		resolvePaths(cfg, filepath.Dir(a.configPath))
	}

	if cfg.Gateway.APIKey == "" {
		if name, ok := apiKeyEnv[cfg.Gateway.Provider]; ok {
			cfg.Gateway.APIKey = os.Getenv(name)
		}
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	return cfg, nil
}

func checkConfig(cfg *api.EngineConfig) (*api.EngineConfig, error) {
	if errs := api.NewConfigValidator().Validate(cfg); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %v", api.ErrValidationFailed, errs)
	}
	return cfg, nil
}

// initLogging routes logs to stderr so stdout stays reserved for command output.
func initLogging(cfg *api.EngineConfig) {
	logging.Init(logging.FromEngineConfig(cfg.Logging.Level, cfg.Logging.Format))
}

// resolvePaths makes file references relative to the configuration file.
func resolvePaths(cfg *api.EngineConfig, dir string) {
	for _, p := range []*string{&cfg.Gateway.Script, &cfg.Specialists.File, &cfg.Execution.WASMModule} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}
