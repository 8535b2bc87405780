package gateway

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ScriptStep is one scripted reply.
type ScriptStep struct {
	// Response is the text returned to the caller.
	Response string `yaml:"response"`

	// Err, when set, is returned instead of Response.
	Err error `yaml:"-"`
}

// ScriptedProvider replays predefined replies per role for deterministic
// testing. When a role's queue runs out, its last reply repeats.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    map[string][]ScriptStep
	index    map[string]int
	requests []Request
	fallback func(Request) (string, error)
}

// NewScriptedProvider creates an empty scripted provider.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{
		steps: make(map[string][]ScriptStep),
		index: make(map[string]int),
	}
}

// On appends replies for a role and returns the provider for chaining.
func (p *ScriptedProvider) On(role string, responses ...string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range responses {
		p.steps[role] = append(p.steps[role], ScriptStep{Response: r})
	}
	return p
}

// OnError appends a failing reply for a role.
func (p *ScriptedProvider) OnError(role string, err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps[role] = append(p.steps[role], ScriptStep{Err: err})
	return p
}

// OnUnscripted sets the handler for roles without any scripted reply.
func (p *ScriptedProvider) OnUnscripted(fn func(Request) (string, error)) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = fn
	return p
}

// LoadScriptFile reads a YAML file mapping roles to ordered replies:
//
//	architect:
//	  - response: '{"plan_steps": ["ls /tmp"]}'
//	critic:
//	  - response: '{"is_approved": true, "score": 0.9}'
func LoadScriptFile(path string) (*ScriptedProvider, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	var script map[string][]ScriptStep
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}

	p := NewScriptedProvider()
	for role, steps := range script {
		p.steps[role] = steps
	}
	return p, nil
}

// Name returns the provider name.
func (p *ScriptedProvider) Name() string {
	return "scripted"
}

// Complete implements Provider.
func (p *ScriptedProvider) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	p.requests = append(p.requests, req)
	steps := p.steps[req.Role]
	if len(steps) == 0 {
		fallback := p.fallback
		p.mu.Unlock()
		if fallback != nil {
			return fallback(req)
		}
		return "", fmt.Errorf("%w: no reply for role %q", ErrScriptExhausted, req.Role)
	}

	i := p.index[req.Role]
	if i >= len(steps) {
		i = len(steps) - 1
	} else {
		p.index[req.Role] = i + 1
	}
	step := steps[i]
	p.mu.Unlock()

	if step.Err != nil {
		return "", step.Err
	}
	return step.Response, nil
}

// Requests returns a copy of every request received so far.
func (p *ScriptedProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls returns how many requests a role has made.
func (p *ScriptedProvider) Calls(role string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.requests {
		if r.Role == role {
			n++
		}
	}
	return n
}

// Reset rewinds every role to its first reply and clears recorded requests.
func (p *ScriptedProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = make(map[string]int)
	p.requests = nil
}
