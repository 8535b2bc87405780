package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/specialist"
	"github.com/felixgeelhaar/roundtable/domain/task"
)

type staticResolver map[specialist.Role]specialist.Entry

func (r staticResolver) Resolve(_ context.Context, role specialist.Role, _ []string) (specialist.Entry, error) {
	e, ok := r[role]
	if !ok {
		return specialist.Entry{}, errors.New("unknown role")
	}
	return e, nil
}

type countingRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *countingRecorder) ObserveGatewayCall(role, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[role+"/"+outcome]++
}

func testResolver() staticResolver {
	return staticResolver{
		specialist.RoleArchitect: {Role: specialist.RoleArchitect, Name: "Architect", Instructions: "design plans", Tier: specialist.TierAdvanced},
		specialist.RoleLibrarian: {Role: specialist.RoleLibrarian, Name: "Librarian", Instructions: "summarize", Tier: specialist.TierFast},
		specialist.RoleCritic:    {Role: specialist.RoleCritic, Name: "Critic", Instructions: "audit plans"},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Models = map[specialist.Tier]string{
		specialist.TierFast:     "fast-model",
		specialist.TierStandard: "standard-model",
		specialist.TierAdvanced: "advanced-model",
	}
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestGateway_Invoke(t *testing.T) {
	t.Parallel()

	t.Run("structured output", func(t *testing.T) {
		t.Parallel()

		provider := NewScriptedProvider().On("architect", "```json\n{\"plan_steps\":[\"ls /tmp\"]}\n```")
		rec := &countingRecorder{}
		g := New(provider, testResolver(), testConfig(), WithRecorder(rec))

		plan, err := InvokeAs[task.Plan](context.Background(), g, Call{
			Role:   specialist.RoleArchitect,
			Prompt: "Design plan for: list files",
		}, MustSchemaFor[task.Plan]())
		if err != nil {
			t.Fatalf("InvokeAs() error = %v", err)
		}
		if len(plan.Steps) != 1 || plan.Steps[0] != "ls /tmp" {
			t.Errorf("plan = %+v", plan)
		}

		reqs := provider.Requests()
		if len(reqs) != 1 {
			t.Fatalf("requests = %d, want 1", len(reqs))
		}
		if reqs[0].Model != "advanced-model" {
			t.Errorf("Model = %s, want advanced-model", reqs[0].Model)
		}
		if !reqs[0].JSON || !strings.Contains(reqs[0].System, "plan_steps") {
			t.Errorf("schema not passed to provider: %+v", reqs[0])
		}
		if rec.calls["architect/ok"] != 1 {
			t.Errorf("recorder = %v", rec.calls)
		}
	})

	t.Run("empty tier uses standard model", func(t *testing.T) {
		t.Parallel()

		provider := NewScriptedProvider().On("critic", "fine")
		g := New(provider, testResolver(), testConfig())

		resp, err := g.Invoke(context.Background(), Call{Role: specialist.RoleCritic, Prompt: "p"})
		if err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
		if resp.Model != "standard-model" || resp.Specialist != "Critic" || resp.Text != "fine" {
			t.Errorf("Invoke() = %+v", resp)
		}
	})

	t.Run("malformed output retried once", func(t *testing.T) {
		t.Parallel()

		provider := NewScriptedProvider().On("architect", "not json", `{"plan_steps":["ls"]}`)
		g := New(provider, testResolver(), testConfig())

		_, err := g.Invoke(context.Background(), Call{Role: specialist.RoleArchitect, Schema: MustSchemaFor[task.Plan]()})
		if err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
		if got := provider.Calls("architect"); got != 2 {
			t.Errorf("Calls() = %d, want 2", got)
		}
	})

	t.Run("malformed output twice fails", func(t *testing.T) {
		t.Parallel()

		provider := NewScriptedProvider().On("architect", `{"steps":["ls"]}`)
		rec := &countingRecorder{}
		g := New(provider, testResolver(), testConfig(), WithRecorder(rec))

		_, err := g.Invoke(context.Background(), Call{Role: specialist.RoleArchitect, Schema: MustSchemaFor[task.Plan]()})
		if task.CodeOf(err) != task.CodeMalformedOutput {
			t.Fatalf("Invoke() error = %v, want MALFORMED_OUTPUT", err)
		}
		if got := provider.Calls("architect"); got != 2 {
			t.Errorf("Calls() = %d, want 2", got)
		}
		if rec.calls["architect/MALFORMED_OUTPUT"] != 1 {
			t.Errorf("recorder = %v", rec.calls)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		t.Parallel()

		provider := NewScriptedProvider().OnError("librarian", errors.New("connection refused"))
		g := New(provider, testResolver(), testConfig())

		_, err := g.Invoke(context.Background(), Call{Role: specialist.RoleLibrarian})
		if !errors.Is(err, task.ErrReasoningUnavailable) {
			t.Fatalf("Invoke() error = %v, want REASONING_UNAVAILABLE", err)
		}
		if got := provider.Calls("librarian"); got != 2 {
			t.Errorf("Calls() = %d, want 2", got)
		}
	})

	t.Run("transient failure recovers", func(t *testing.T) {
		t.Parallel()

		provider := NewScriptedProvider().
			OnError("librarian", errors.New("502")).
			On("librarian", "summary")
		g := New(provider, testResolver(), testConfig())

		resp, err := g.Invoke(context.Background(), Call{Role: specialist.RoleLibrarian})
		if err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
		if resp.Text != "summary" {
			t.Errorf("Text = %q, want summary", resp.Text)
		}
	})

	t.Run("unknown role", func(t *testing.T) {
		t.Parallel()

		g := New(NewScriptedProvider(), testResolver(), testConfig())
		_, err := g.Invoke(context.Background(), Call{Role: "astrologer"})
		if task.CodeOf(err) != task.CodeReasoningUnavailable {
			t.Errorf("Invoke() error = %v, want REASONING_UNAVAILABLE", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		provider := NewScriptedProvider().On("librarian", "summary")
		g := New(provider, testResolver(), testConfig())

		_, err := g.Invoke(ctx, Call{Role: specialist.RoleLibrarian})
		if task.CodeOf(err) != task.CodeCancelled {
			t.Errorf("Invoke() error = %v, want CANCELLED", err)
		}
	})
}

func TestGateway_CircuitOpen(t *testing.T) {
	t.Parallel()

	provider := NewScriptedProvider().OnError("librarian", errors.New("down"))
	cfg := testConfig()
	cfg.BreakerThreshold = 2
	cfg.BreakerTimeout = time.Minute
	g := New(provider, testResolver(), cfg)
	ctx := context.Background()

	// The first invocation makes two failing attempts and trips the breaker.
	if _, err := g.Invoke(ctx, Call{Role: specialist.RoleLibrarian}); err == nil {
		t.Fatal("Invoke() expected error")
	}

	_, err := g.Invoke(ctx, Call{Role: specialist.RoleLibrarian})
	if task.CodeOf(err) != task.CodeReasoningUnavailable {
		t.Fatalf("Invoke() error = %v, want REASONING_UNAVAILABLE", err)
	}
	if !strings.Contains(err.Error(), "circuit open") {
		t.Errorf("Invoke() error = %v, want circuit open", err)
	}
	if got := provider.Calls("librarian"); got != 2 {
		t.Errorf("Calls() = %d, want 2 (open breaker must not reach provider)", got)
	}
}

func TestSynthesizer_Synthesize(t *testing.T) {
	t.Parallel()

	provider := NewScriptedProvider().On("synthesizer", "  You are a quantum physicist.  ")
	g := New(provider, testResolver(), testConfig())

	entry, err := g.Synthesizer().Synthesize(context.Background(), "quantum_physicist")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if entry.Name != "Expert_quantum_physicist" {
		t.Errorf("Name = %s, want Expert_quantum_physicist", entry.Name)
	}
	if entry.Instructions != "You are a quantum physicist." || !entry.Transient || entry.Tier != specialist.TierFast {
		t.Errorf("entry = %+v", entry)
	}
	if reqs := provider.Requests(); reqs[0].Model != "fast-model" || !strings.Contains(reqs[0].Prompt, "quantum_physicist") {
		t.Errorf("request = %+v", reqs[0])
	}

	failing := New(NewScriptedProvider().OnError("synthesizer", errors.New("down")), testResolver(), testConfig())
	if _, err := failing.Synthesizer().Synthesize(context.Background(), "x"); !errors.Is(err, specialist.ErrSynthesisFailed) {
		t.Errorf("Synthesize() error = %v, want ErrSynthesisFailed", err)
	}
}
