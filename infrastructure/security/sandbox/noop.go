package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunFunc produces the result of a noop run.
type RunFunc func(ctx context.Context, env map[string]string, script string, timeout time.Duration) (RunResult, error)

// NoopProvider executes nothing. It records every call and returns the
// result of its RunFunc, which makes it the dry-run provider and the test
// double for the execution stage.
type NoopProvider struct {
	mu        sync.Mutex
	run       RunFunc
	handles   map[string]map[string]string
	created   int
	destroyed int
	scripts   []string
}

// NewNoop creates a noop provider. A nil run returns an empty success.
func NewNoop(run RunFunc) *NoopProvider {
	if run == nil {
		run = func(context.Context, map[string]string, string, time.Duration) (RunResult, error) {
			return RunResult{}, nil
		}
	}
	return &NoopProvider{run: run, handles: make(map[string]map[string]string)}
}

// Name returns the provider name.
func (p *NoopProvider) Name() string {
	return "noop"
}

// Create implements Provider.
func (p *NoopProvider) Create(_ context.Context, env map[string]string) (Handle, error) {
	if err := validateEnv(env); err != nil {
		return Handle{}, err
	}
	h := Handle{ID: uuid.NewString()}
	p.mu.Lock()
	p.handles[h.ID] = env
	p.created++
	p.mu.Unlock()
	return h, nil
}

// Run implements Provider.
func (p *NoopProvider) Run(ctx context.Context, h Handle, script string, timeout time.Duration) (RunResult, error) {
	p.mu.Lock()
	env, ok := p.handles[h.ID]
	p.scripts = append(p.scripts, script)
	p.mu.Unlock()
	if !ok {
		return RunResult{}, ErrUnknownHandle
	}
	return p.run(ctx, env, script, timeout)
}

// Destroy implements Provider.
func (p *NoopProvider) Destroy(_ context.Context, h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handles[h.ID]; !ok {
		return ErrUnknownHandle
	}
	delete(p.handles, h.ID)
	p.destroyed++
	return nil
}

// Created returns how many handles were created.
func (p *NoopProvider) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Destroyed returns how many handles were destroyed.
func (p *NoopProvider) Destroyed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Scripts returns every script passed to Run.
func (p *NoopProvider) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.scripts))
	copy(out, p.scripts)
	return out
}

var _ Provider = (*NoopProvider)(nil)
