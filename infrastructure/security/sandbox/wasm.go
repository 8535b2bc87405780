package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// WASMProvider runs scripts with a WASI interpreter module, for example a
// python.wasm build. Each run instantiates a fresh module whose only
// filesystem is the handle's directory mounted at /work.
type WASMProvider struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	config   Config
	mu       sync.Mutex
	handles  map[string]*wasmEnv
}

type wasmEnv struct {
	dir string
	env map[string]string
}

// NewWASMFromFile compiles the interpreter module at path.
func NewWASMFromFile(ctx context.Context, path string, opts ...Option) (*WASMProvider, error) {
	wasmBytes, err := os.ReadFile(path) // #nosec G304 -- path is operator configuration
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	return NewWASM(ctx, wasmBytes, opts...)
}

// NewWASM compiles an interpreter module. The interpreter receives the
// configured interpreter arguments followed by the script, so for python.wasm
// use WithInterpreter("python", "-c").
func NewWASM(ctx context.Context, wasmBytes []byte, opts ...Option) (*WASMProvider, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	runtimeConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MaxMemory > 0 {
		pages := cfg.MaxMemory / (64 * 1024)
		if pages > math.MaxUint16+1 {
			pages = math.MaxUint16 + 1
		}
		if pages == 0 {
			pages = 1
		}
		runtimeConfig = runtimeConfig.WithMemoryLimitPages(uint32(pages)) // #nosec G115 -- bounds checked above
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("%w: %w", ErrInvalidWASM, err)
	}

	return &WASMProvider{
		runtime:  runtime,
		compiled: compiled,
		config:   cfg,
		handles:  make(map[string]*wasmEnv),
	}, nil
}

// Name returns the provider name.
func (p *WASMProvider) Name() string {
	return "wasm"
}

// Create implements Provider.
func (p *WASMProvider) Create(_ context.Context, env map[string]string) (Handle, error) {
	if err := validateEnv(env); err != nil {
		return Handle{}, err
	}

	dir, err := os.MkdirTemp(p.config.BaseDir, "roundtable-wasm-")
	if err != nil {
		return Handle{}, fmt.Errorf("create sandbox dir: %w", err)
	}

	copied := make(map[string]string, len(env))
	for k, v := range env {
		copied[k] = v
	}

	h := Handle{ID: uuid.NewString()}
	p.mu.Lock()
	p.handles[h.ID] = &wasmEnv{dir: dir, env: copied}
	p.mu.Unlock()
	return h, nil
}

// Run implements Provider.
func (p *WASMProvider) Run(ctx context.Context, h Handle, script string, timeout time.Duration) (RunResult, error) {
	p.mu.Lock()
	we, ok := p.handles[h.ID]
	p.mu.Unlock()
	if !ok {
		return RunResult{}, ErrUnknownHandle
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &cappedBuffer{max: p.config.MaxOutput}
	stderr := &cappedBuffer{max: p.config.MaxOutput}

	args := append(append([]string{}, p.config.Interpreter...), script)
	modConfig := wazero.NewModuleConfig().
		WithName("").
		WithArgs(args...).
		WithStdout(stdout).
		WithStderr(stderr).
		WithEnv("HOME", "/work").
		WithFSConfig(wazero.NewFSConfig().WithDirMount(we.dir, "/work"))
	for k, v := range we.env {
		modConfig = modConfig.WithEnv(k, v)
	}

	start := time.Now()
	mod, err := p.runtime.InstantiateModule(runCtx, p.compiled, modConfig)
	if mod != nil {
		_ = mod.Close(context.Background())
	}

	result := RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		Files:    listFiles(we.dir),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	var exitErr *sys.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = int(exitErr.ExitCode())
	default:
		return result, fmt.Errorf("WASM execution failed: %w", err)
	}
	return result, nil
}

// Destroy implements Provider.
func (p *WASMProvider) Destroy(_ context.Context, h Handle) error {
	p.mu.Lock()
	we, ok := p.handles[h.ID]
	delete(p.handles, h.ID)
	p.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return os.RemoveAll(we.dir)
}

// Close releases the compiled module and the runtime.
func (p *WASMProvider) Close(ctx context.Context) error {
	return errors.Join(p.compiled.Close(ctx), p.runtime.Close(ctx))
}

var _ Provider = (*WASMProvider)(nil)
