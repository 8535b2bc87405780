package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProcessProvider runs scripts with a local interpreter in a private
// temporary directory. The process sees only the handle's variables plus
// PATH, HOME and TMPDIR; the host environment is not inherited.
type ProcessProvider struct {
	config  Config
	mu      sync.Mutex
	handles map[string]*processEnv
}

type processEnv struct {
	dir string
	env []string
}

// NewProcess creates a process provider.
func NewProcess(opts ...Option) (*ProcessProvider, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Interpreter) == 0 {
		return nil, ErrNoInterpreter
	}
	if _, err := exec.LookPath(cfg.Interpreter[0]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoInterpreter, err)
	}
	return &ProcessProvider{
		config:  cfg,
		handles: make(map[string]*processEnv),
	}, nil
}

// Name returns the provider name.
func (p *ProcessProvider) Name() string {
	return "process"
}

// Create implements Provider.
func (p *ProcessProvider) Create(_ context.Context, env map[string]string) (Handle, error) {
	if err := validateEnv(env); err != nil {
		return Handle{}, err
	}

	dir, err := os.MkdirTemp(p.config.BaseDir, "roundtable-sandbox-")
	if err != nil {
		return Handle{}, fmt.Errorf("create sandbox dir: %w", err)
	}

	vars := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + dir,
		"TMPDIR=" + dir,
	}
	for k, v := range env {
		vars = append(vars, k+"="+v)
	}

	h := Handle{ID: uuid.NewString()}
	p.mu.Lock()
	p.handles[h.ID] = &processEnv{dir: dir, env: vars}
	p.mu.Unlock()
	return h, nil
}

// Run implements Provider.
func (p *ProcessProvider) Run(ctx context.Context, h Handle, script string, timeout time.Duration) (RunResult, error) {
	p.mu.Lock()
	pe, ok := p.handles[h.ID]
	p.mu.Unlock()
	if !ok {
		return RunResult{}, ErrUnknownHandle
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, p.config.Interpreter[1:]...), script)
	cmd := exec.CommandContext(runCtx, p.config.Interpreter[0], args...) // #nosec G204 -- interpreter is operator configuration
	cmd.Dir = pe.dir
	cmd.Env = pe.env
	cmd.WaitDelay = 2 * time.Second

	stdout := &cappedBuffer{max: p.config.MaxOutput}
	stderr := &cappedBuffer{max: p.config.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	result := RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		Files:    listFiles(pe.dir),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, fmt.Errorf("start interpreter: %w", err)
	}
	return result, nil
}

// Destroy implements Provider.
func (p *ProcessProvider) Destroy(_ context.Context, h Handle) error {
	p.mu.Lock()
	pe, ok := p.handles[h.ID]
	delete(p.handles, h.ID)
	p.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	return os.RemoveAll(pe.dir)
}

// Active returns the number of live handles.
func (p *ProcessProvider) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// listFiles returns the files under dir relative to it, sorted.
func listFiles(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(dir, path); err == nil {
			files = append(files, rel)
		}
		return nil
	})
	sort.Strings(files)
	return files
}

var _ Provider = (*ProcessProvider)(nil)
