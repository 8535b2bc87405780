// Package sandbox provides isolated script execution for approved plans.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// Provider runs scripts in isolated, per-invocation environments.
// A handle is created once, used for one or more runs and destroyed exactly
// once by the caller, including after a timed-out run.
type Provider interface {
	// Create allocates an isolated environment with the given variables.
	Create(ctx context.Context, env map[string]string) (Handle, error)

	// Run executes script inside the environment. A run exceeding timeout
	// returns a result with TimedOut set rather than an error.
	Run(ctx context.Context, h Handle, script string, timeout time.Duration) (RunResult, error)

	// Destroy releases the environment.
	Destroy(ctx context.Context, h Handle) error

	// Name identifies the provider in logs.
	Name() string
}

// Handle identifies a sandbox environment.
type Handle struct {
	ID string `json:"id"`
}

// RunResult is the raw outcome of one run.
type RunResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Files    []string      `json:"files,omitempty"`
	Duration time.Duration `json:"duration"`
}

// DefaultTimeout is the run timeout applied when none is given.
const DefaultTimeout = 60 * time.Second

// DefaultMaxOutput caps captured stdout and stderr, each.
const DefaultMaxOutput = 1 << 20

// Sandbox errors.
var (
	// ErrUnknownHandle indicates a handle that was never created or is destroyed.
	ErrUnknownHandle = errors.New("unknown sandbox handle")

	// ErrInvalidEnv indicates an environment variable name that cannot be passed.
	ErrInvalidEnv = errors.New("invalid sandbox environment")

	// ErrNoInterpreter indicates a provider without an interpreter command.
	ErrNoInterpreter = errors.New("no interpreter configured")

	// ErrInvalidWASM indicates the interpreter module could not be compiled.
	ErrInvalidWASM = errors.New("invalid WASM module")
)

// Option configures a provider.
type Option func(*Config)

// Config holds common provider configuration.
type Config struct {
	// MaxMemory is the maximum memory in bytes (wasm only).
	MaxMemory int64

	// MaxOutput caps captured stdout and stderr in bytes.
	MaxOutput int

	// Interpreter is the command and leading arguments the script is passed to.
	Interpreter []string

	// BaseDir is where per-handle working directories are created.
	BaseDir string
}

// DefaultConfig returns the provider defaults.
func DefaultConfig() Config {
	return Config{
		MaxMemory:   256 * 1024 * 1024,
		MaxOutput:   DefaultMaxOutput,
		Interpreter: []string{"python3", "-c"},
	}
}

// WithMaxMemory sets the maximum memory limit.
func WithMaxMemory(bytes int64) Option {
	return func(c *Config) {
		c.MaxMemory = bytes
	}
}

// WithMaxOutput sets the captured output cap.
func WithMaxOutput(bytes int) Option {
	return func(c *Config) {
		c.MaxOutput = bytes
	}
}

// WithInterpreter sets the interpreter command, for example "python3", "-c".
func WithInterpreter(cmd ...string) Option {
	return func(c *Config) {
		c.Interpreter = cmd
	}
}

// WithBaseDir sets the parent directory of per-handle working directories.
func WithBaseDir(dir string) Option {
	return func(c *Config) {
		c.BaseDir = dir
	}
}

// validateEnv rejects names that would corrupt the environment block.
func validateEnv(env map[string]string) error {
	for k := range env {
		if k == "" {
			return ErrInvalidEnv
		}
		for _, r := range k {
			if r == '=' || r == 0 {
				return ErrInvalidEnv
			}
		}
	}
	return nil
}

// cappedBuffer keeps the first max bytes written and discards the rest.
type cappedBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - len(b.buf)
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + "\n[output truncated]"
	}
	return string(b.buf)
}
