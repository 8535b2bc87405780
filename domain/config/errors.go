package config

import "errors"

// Sentinel errors returned while loading an engine configuration.
var (
	ErrConfigNotFound    = errors.New("config file not found")
	ErrInvalidFormat     = errors.New("config file is malformed")
	ErrUnsupportedFormat = errors.New("config format not supported")
	ErrValidationFailed  = errors.New("config is invalid")
	ErrMissingEnvVar     = errors.New("environment variable not set")

	// ErrBuildFailed wraps errors from assembling a runtime out of a valid config.
	ErrBuildFailed = errors.New("runtime build failed")
)
