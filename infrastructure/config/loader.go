// Package config reads engine configuration files. YAML and JSON are
// accepted; ${VAR} references are expanded before parsing and the result
// is checked by the domain validator.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/roundtable/domain/config"
)

// Format is a configuration file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", config.ErrUnsupportedFormat, ext)
	}
}

// Loader parses engine configuration.
type Loader struct {
	expand   bool
	strict   bool
	validate bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithEnvExpansion toggles ${VAR} expansion. On by default.
func WithEnvExpansion(enabled bool) LoaderOption {
	return func(l *Loader) { l.expand = enabled }
}

// WithStrictEnv makes a reference to an unset variable an error.
func WithStrictEnv(enabled bool) LoaderOption {
	return func(l *Loader) { l.strict = enabled }
}

// WithValidation toggles validation of the parsed config. On by default.
func WithValidation(enabled bool) LoaderOption {
	return func(l *Loader) { l.validate = enabled }
}

// NewLoader returns a loader that expands and validates.
func NewLoader() *Loader {
	return NewLoaderWithOptions()
}

func NewLoaderWithOptions(opts ...LoaderOption) *Loader {
	l := &Loader{expand: true, validate: true}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFile reads path, inferring the format from its extension.
func (l *Loader) LoadFile(path string) (*config.EngineConfig, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, path)
	case err != nil:
		// Reading a directory fails here too.
		return nil, fmt.Errorf("%w: %s: %v", config.ErrInvalidFormat, path, err)
	}
	return l.parse(data, format)
}

// Load reads a whole config from r. Fields absent from the input keep the
// values of config.Default.
func (l *Loader) Load(r io.Reader, format Format) (*config.EngineConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return l.parse(data, format)
}

// LoadString parses content in the given format.
func (l *Loader) LoadString(content string, format Format) (*config.EngineConfig, error) {
	return l.parse([]byte(content), format)
}

func (l *Loader) parse(data []byte, format Format) (*config.EngineConfig, error) {
	if l.expand {
		expanded, err := (&envExpander{strict: l.strict}).Expand(string(data))
		if err != nil {
			return nil, err
		}
		data = []byte(expanded)
	}

	cfg := config.Default()
	if err := decode(data, format, cfg); err != nil {
		return nil, err
	}

	if l.validate {
		if errs := config.NewValidator().Validate(cfg); errs.HasErrors() {
			return nil, fmt.Errorf("%w: %v", config.ErrValidationFailed, errs)
		}
	}
	return cfg, nil
}

func decode(data []byte, format Format, cfg *config.EngineConfig) error {
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, cfg)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	default:
		return fmt.Errorf("%w: %q", config.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidFormat, err)
	}
	return nil
}
