package application_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/roundtable/application"
	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/domain/knowledge"
	"github.com/felixgeelhaar/roundtable/domain/task"
	"github.com/felixgeelhaar/roundtable/domain/vault"
	"github.com/felixgeelhaar/roundtable/infrastructure/eventbus"
	"github.com/felixgeelhaar/roundtable/infrastructure/gateway"
	"github.com/felixgeelhaar/roundtable/infrastructure/security/sandbox"
	specialistreg "github.com/felixgeelhaar/roundtable/infrastructure/specialist"
	"github.com/felixgeelhaar/roundtable/infrastructure/storage/memory"
)

// Test helpers

const (
	librarianReply = "The user works on a shared Linux host."
	planReply      = `{"plan_steps": ["$ ls /tmp"], "required_tools": ["python_code_interpreter"]}`
	approveReply   = `{"is_approved": true, "score": 92, "feedback": ""}`
	rejectReply    = `{"is_approved": false, "score": 40, "feedback": "add safety checks", "risks": ["unbounded listing"]}`
)

func newGateway(t *testing.T, provider gateway.Provider) *gateway.Gateway {
	t.Helper()

	registry, err := specialistreg.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	cfg := gateway.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.BreakerThreshold = 0
	return gateway.New(provider, registry, cfg)
}

func scripted(criticReplies ...string) *gateway.ScriptedProvider {
	return gateway.NewScriptedProvider().
		On("librarian", librarianReply).
		On("architect", planReply).
		On("critic", criticReplies...)
}

func listing() *sandbox.NoopProvider {
	return sandbox.NewNoop(func(context.Context, map[string]string, string, time.Duration) (sandbox.RunResult, error) {
		return sandbox.RunResult{Stdout: "a.txt\nb.txt\n"}, nil
	})
}

type fixture struct {
	provider *gateway.ScriptedProvider
	sandbox  *sandbox.NoopProvider
	opts     []application.Option
}

func newFixture(provider *gateway.ScriptedProvider, box *sandbox.NoopProvider, opts ...application.Option) fixture {
	return fixture{provider: provider, sandbox: box, opts: opts}
}

func (f fixture) engine(t *testing.T) *application.Engine {
	t.Helper()

	opts := append([]application.Option{
		application.WithGateway(newGateway(t, f.provider)),
		application.WithSandbox(f.sandbox),
		application.WithDeterministicScript(true),
		application.WithRelationshipStore(memory.NewRelationshipStore()),
		application.WithSemanticStore(memory.NewSemanticStore(nil)),
		application.WithSecretStore(memory.NewSecretStore()),
	}, f.opts...)

	engine, err := application.NewEngineWithOptions(opts...)
	if err != nil {
		t.Fatalf("NewEngineWithOptions() error = %v", err)
	}
	return engine
}

// run executes one invocation and returns its result with every event
// delivered to a subscriber.
func run(t *testing.T, ctx context.Context, engine *application.Engine, objective string) (application.Result, []event.Event) {
	t.Helper()

	inv, err := engine.NewInvocation(objective, "user-1")
	if err != nil {
		t.Fatalf("NewInvocation() error = %v", err)
	}
	sub := inv.Subscribe()
	result := inv.Run(ctx)
	return result, drain(sub)
}

func drain(sub *eventbus.Subscription) []event.Event {
	var events []event.Event
	for e := range sub.Events() {
		events = append(events, e)
	}
	return events
}

func count(events []event.Event, match func(event.Event) bool) int {
	n := 0
	for _, e := range events {
		if match(e) {
			n++
		}
	}
	return n
}

func isProposal(e event.Event) bool {
	return e.Agent == "Architect" && e.Content == "Plan proposed."
}

func isAudit(e event.Event) bool {
	return e.Agent == "Critic" && strings.HasPrefix(e.Content, "Auditing plan")
}

func isApproval(e event.Event) bool {
	return e.Agent == "Critic" && e.Kind == event.KindThought && e.Status == event.StatusApproved
}

func isRejection(e event.Event) bool {
	return e.Agent == "Critic" && e.Kind == event.KindError
}

func isToolUse(e event.Event) bool {
	return e.Kind == event.KindToolUse
}

// assertSingleTerminal checks that exactly one terminal event was delivered
// and that it was the last one.
func assertSingleTerminal(t *testing.T, events []event.Event) event.Event {
	t.Helper()

	if len(events) == 0 {
		t.Fatal("no events delivered")
	}
	if n := count(events, event.Event.IsTerminal); n != 1 {
		t.Fatalf("terminal events = %d, want 1", n)
	}
	last := events[len(events)-1]
	if !last.IsTerminal() {
		t.Fatalf("last event = %+v, want terminal", last)
	}
	for i, e := range events {
		if e.Sequence != uint64(i+1) {
			t.Fatalf("event %d sequence = %d, want %d", i, e.Sequence, i+1)
		}
	}
	return last
}

type failingRelationships struct {
	knowledge.RelationshipStore
}

func (failingRelationships) FindEnabledExtensions(context.Context, string) ([]string, error) {
	return nil, knowledge.ErrUnavailable
}

func (failingRelationships) FindRelatedFacts(context.Context, string) ([]knowledge.Fact, error) {
	return nil, knowledge.ErrUnavailable
}

// cancellingRelationships cancels the invocation from inside a query.
type cancellingRelationships struct {
	knowledge.RelationshipStore
	cancel context.CancelFunc
}

func (r cancellingRelationships) FindEnabledExtensions(ctx context.Context, _ string) ([]string, error) {
	r.cancel()
	return nil, ctx.Err()
}

func (r cancellingRelationships) FindRelatedFacts(ctx context.Context, _ string) ([]knowledge.Fact, error) {
	return nil, ctx.Err()
}

type failingSemantic struct {
	knowledge.SemanticStore
}

func (failingSemantic) SearchSimilar(context.Context, string, string, int) ([]knowledge.Fact, error) {
	return nil, knowledge.ErrUnavailable
}

type failingVault struct {
	vault.Store
}

func (failingVault) GetAll(context.Context, string) (map[string]string, error) {
	return nil, vault.ErrUnavailable
}

type brokenSandbox struct {
	*sandbox.NoopProvider
	create func() error
}

func (b brokenSandbox) Create(ctx context.Context, env map[string]string) (sandbox.Handle, error) {
	if err := b.create(); err != nil {
		return sandbox.Handle{}, err
	}
	return b.NoopProvider.Create(ctx, env)
}

// Tests

func TestNewEngine(t *testing.T) {
	t.Parallel()

	box := listing()
	g := newGateway(t, scripted(approveReply))

	tests := []struct {
		name    string
		config  application.EngineConfig
		wantErr bool
	}{
		{"valid", application.EngineConfig{Gateway: g, Sandbox: box}, false},
		{"missing gateway", application.EngineConfig{Sandbox: box}, true},
		{"missing sandbox", application.EngineConfig{Gateway: g}, true},
		{"bad policy", application.EngineConfig{Gateway: g, Sandbox: box, BlockedPolicy: "retry"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := application.NewEngine(tt.config)
			if tt.wantErr != (err != nil) {
				t.Errorf("NewEngine() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEngine_ApprovedOnFirstAttempt(t *testing.T) {
	t.Parallel()

	f := newFixture(scripted(approveReply), listing())
	result, events := run(t, context.Background(), f.engine(t), "list files in /tmp")

	if !result.Succeeded() {
		t.Fatalf("Run() code = %s, message = %s", result.Code, result.Message)
	}
	if result.Status != task.StatusFinished {
		t.Errorf("Status = %s, want finished", result.Status)
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
	if n := count(events, isProposal); n != 1 {
		t.Errorf("plans = %d, want 1", n)
	}
	if n := count(events, isApproval); n != 1 {
		t.Errorf("approvals = %d, want 1", n)
	}
	if n := count(events, isToolUse); n != 1 {
		t.Errorf("executions = %d, want 1", n)
	}

	last := assertSingleTerminal(t, events)
	if last.Kind != event.KindResult {
		t.Fatalf("terminal kind = %s, want result", last.Kind)
	}
	if !strings.Contains(last.Output, "a.txt") {
		t.Errorf("result output = %q, want stdout", last.Output)
	}
	if result.Execution == nil || result.Execution.Status != task.ExecutionSuccess {
		t.Errorf("Execution = %+v, want success", result.Execution)
	}
	if f.sandbox.Created() != 1 || f.sandbox.Destroyed() != 1 {
		t.Errorf("sandbox created/destroyed = %d/%d, want 1/1", f.sandbox.Created(), f.sandbox.Destroyed())
	}

	first := events[0]
	if first.Agent != "Librarian" || first.Content != "Retrieving user context and installed skills..." {
		t.Errorf("first event = %+v, want librarian retrieval", first)
	}
}

func TestEngine_ApprovedAfterRejections(t *testing.T) {
	t.Parallel()

	f := newFixture(scripted(rejectReply, rejectReply, approveReply), listing())
	result, events := run(t, context.Background(), f.engine(t), "list files in /tmp")

	if !result.Succeeded() {
		t.Fatalf("Run() code = %s, message = %s", result.Code, result.Message)
	}
	if n := count(events, isProposal); n != 3 {
		t.Errorf("plans = %d, want 3", n)
	}
	if n := count(events, isAudit); n != 3 {
		t.Errorf("critiques = %d, want 3", n)
	}
	if n := count(events, isRejection); n != 2 {
		t.Errorf("rejections = %d, want 2", n)
	}
	if n := count(events, isToolUse); n != 1 {
		t.Errorf("executions = %d, want 1", n)
	}
	if result.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", result.Iterations)
	}
	assertSingleTerminal(t, events)

	var prompts []string
	for _, req := range f.provider.Requests() {
		if req.Role == "architect" {
			prompts = append(prompts, req.Prompt)
		}
	}
	if len(prompts) != 3 {
		t.Fatalf("architect prompts = %d, want 3", len(prompts))
	}
	if !strings.HasPrefix(prompts[0], "Design plan for: list files in /tmp") {
		t.Errorf("first prompt = %q", prompts[0])
	}
	if !strings.Contains(prompts[1], "Previous Feedback: add safety checks") {
		t.Errorf("refinement prompt = %q, want critic feedback", prompts[1])
	}

	for _, e := range events {
		if !isRejection(e) {
			continue
		}
		input, ok := e.Input.(map[string]any)
		if !ok || input["feedback"] != "add safety checks" {
			t.Errorf("rejection input = %#v, want feedback", e.Input)
		}
	}
}

func TestEngine_BudgetExhausted(t *testing.T) {
	t.Parallel()

	f := newFixture(scripted(rejectReply), listing())
	result, events := run(t, context.Background(), f.engine(t), "list files in /tmp")

	if result.Code != task.CodeBudgetExhausted {
		t.Fatalf("Code = %s, want PLAN_REJECTED_BUDGET_EXHAUSTED", result.Code)
	}
	if result.Status != task.StatusBlocked {
		t.Errorf("Status = %s, want blocked", result.Status)
	}
	if result.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", result.Iterations)
	}
	if n := count(events, isProposal); n != 3 {
		t.Errorf("plans = %d, want 3", n)
	}
	if n := count(events, isToolUse); n != 0 {
		t.Errorf("executions = %d, want 0", n)
	}
	if f.sandbox.Created() != 0 {
		t.Errorf("sandbox created = %d, want 0", f.sandbox.Created())
	}

	last := assertSingleTerminal(t, events)
	if last.Kind != event.KindError || last.Code != string(task.CodeBudgetExhausted) {
		t.Errorf("terminal = %+v, want budget exhausted error", last)
	}
	if !errors.Is(result.Err(), task.ErrBudgetExhausted) {
		t.Errorf("Err() = %v, want ErrBudgetExhausted", result.Err())
	}
}

func TestEngine_BlockedPolicyExecute(t *testing.T) {
	t.Parallel()

	f := newFixture(scripted(rejectReply), listing(),
		application.WithBlockedPolicy(application.BlockedPolicyExecute),
		application.WithMaxIterations(2),
	)
	result, events := run(t, context.Background(), f.engine(t), "list files in /tmp")

	if !result.Succeeded() {
		t.Fatalf("Run() code = %s, message = %s", result.Code, result.Message)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
	if n := count(events, isToolUse); n != 1 {
		t.Errorf("executions = %d, want 1", n)
	}
	override := count(events, func(e event.Event) bool { return e.Agent == "Orchestrator" })
	if override != 1 {
		t.Errorf("override thoughts = %d, want 1", override)
	}
	if result.Verdict == nil || result.Verdict.Approved {
		t.Errorf("Verdict = %+v, want the last rejection", result.Verdict)
	}
}

func TestEngine_StoreFailuresDegrade(t *testing.T) {
	t.Parallel()

	provider := scripted(approveReply)
	engine, err := application.NewEngineWithOptions(
		application.WithGateway(newGateway(t, provider)),
		application.WithDeterministicScript(true),
		application.WithSandbox(listing()),
		application.WithRelationshipStore(failingRelationships{}),
		application.WithSemanticStore(failingSemantic{}),
	)
	if err != nil {
		t.Fatalf("NewEngineWithOptions() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		result, events := run(t, context.Background(), engine, "list files in /tmp")
		if !result.Succeeded() {
			t.Fatalf("run %d: code = %s, message = %s", i, result.Code, result.Message)
		}
		degraded := count(events, func(e event.Event) bool {
			return e.Agent == "Librarian" && e.Status == event.StatusFailed
		})
		if degraded != 2 {
			t.Errorf("run %d: degraded thoughts = %d, want one per store", i, degraded)
		}
		synced := count(events, func(e event.Event) bool {
			return e.Content == "Context synchronized. Found 0 active cognitive modules."
		})
		if synced != 1 {
			t.Errorf("run %d: synchronized thoughts = %d, want 1", i, synced)
		}
	}

	var prompts []string
	for _, req := range provider.Requests() {
		if req.Role == "librarian" {
			prompts = append(prompts, req.Prompt)
		}
	}
	if len(prompts) != 2 || prompts[0] != prompts[1] {
		t.Fatalf("librarian prompts = %q, want two identical empty-context prompts", prompts)
	}
	if prompts[0] != "Context for task: list files in /tmp" {
		t.Errorf("librarian prompt = %q, want empty context", prompts[0])
	}
}

func TestEngine_CancelDuringContextIsNotDegraded(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := scripted(approveReply)
	engine, err := application.NewEngineWithOptions(
		application.WithGateway(newGateway(t, provider)),
		application.WithDeterministicScript(true),
		application.WithSandbox(listing()),
		application.WithRelationshipStore(cancellingRelationships{cancel: cancel}),
		application.WithSemanticStore(memory.NewSemanticStore(nil)),
	)
	if err != nil {
		t.Fatalf("NewEngineWithOptions() error = %v", err)
	}

	result, events := run(t, ctx, engine, "list files in /tmp")
	if result.Code != task.CodeCancelled {
		t.Fatalf("Code = %s, want CANCELLED", result.Code)
	}
	degraded := count(events, func(e event.Event) bool {
		return e.Agent == "Librarian" && e.Status == event.StatusFailed
	})
	if degraded != 0 {
		t.Errorf("degraded thoughts = %d, want 0", degraded)
	}
	if provider.Calls("librarian") != 0 {
		t.Errorf("librarian calls = %d, want 0", provider.Calls("librarian"))
	}
	assertSingleTerminal(t, events)
}

func TestEngine_ContextIncludesUserKnowledge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	relationships := memory.NewRelationshipStore()
	if err := relationships.EnableExtension(ctx, "user-1", "growth-hacker"); err != nil {
		t.Fatalf("EnableExtension() error = %v", err)
	}
	if err := relationships.SaveFact(ctx, knowledge.Fact{
		ID: "f1", UserID: "user-1", Content: "prefers terse output", Type: knowledge.FactPreference,
	}); err != nil {
		t.Fatalf("SaveFact() error = %v", err)
	}

	provider := scripted(approveReply)
	engine, err := application.NewEngineWithOptions(
		application.WithGateway(newGateway(t, provider)),
		application.WithDeterministicScript(true),
		application.WithSandbox(listing()),
		application.WithRelationshipStore(relationships),
	)
	if err != nil {
		t.Fatalf("NewEngineWithOptions() error = %v", err)
	}

	_, events := run(t, ctx, engine, "list files in /tmp")

	synced := count(events, func(e event.Event) bool {
		return e.Content == "Context synchronized. Found 1 active cognitive modules."
	})
	if synced != 1 {
		t.Errorf("synchronized thoughts = %d, want 1", synced)
	}

	for _, req := range provider.Requests() {
		if req.Role != "librarian" {
			continue
		}
		if !strings.Contains(req.Prompt, "[preference] prefers terse output") {
			t.Errorf("librarian prompt = %q, want the saved fact", req.Prompt)
		}
		if !strings.Contains(req.System, "COGNITIVE_MODULE_ACTIVE: Growth Hacker") {
			t.Errorf("librarian instructions should carry the enabled extension: %q", req.System)
		}
	}
}

func TestEngine_SecretsNeverEmitted(t *testing.T) {
	t.Parallel()

	const secret = "sk-live-0123456789"

	ctx := context.Background()
	secrets := memory.NewSecretStore()
	if err := secrets.Set(ctx, "user-1", "API_KEY", secret); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var sawEnv string
	box := sandbox.NewNoop(func(_ context.Context, env map[string]string, _ string, _ time.Duration) (sandbox.RunResult, error) {
		sawEnv = env["API_KEY"]
		return sandbox.RunResult{Stdout: "token=" + secret + "\n"}, nil
	})

	provider := scripted(approveReply).
		On("coder", `{"language": "python", "code": "print('token=`+secret+`')"}`)
	engine, err := application.NewEngineWithOptions(
		application.WithGateway(newGateway(t, provider)),
		application.WithSandbox(box),
		application.WithSecretStore(secrets),
	)
	if err != nil {
		t.Fatalf("NewEngineWithOptions() error = %v", err)
	}

	result, events := run(t, ctx, engine, "print my token")

	if sawEnv != secret {
		t.Errorf("sandbox env API_KEY = %q, want the secret", sawEnv)
	}
	for _, e := range events {
		line, err := e.MarshalLine()
		if err != nil {
			t.Fatalf("MarshalLine() error = %v", err)
		}
		if strings.Contains(string(line), secret) {
			t.Errorf("event leaks secret: %s", line)
		}
	}
	if strings.Contains(result.Output, secret) {
		t.Errorf("result output leaks secret: %q", result.Output)
	}
	if n := count(events, isToolUse); n != 1 {
		t.Fatalf("executions = %d, want 1", n)
	}
}

func TestEngine_SecretFetchFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(scripted(approveReply), listing(), application.WithSecretStore(failingVault{}))
	result, events := run(t, context.Background(), f.engine(t), "list files in /tmp")

	if !result.Succeeded() {
		t.Fatalf("Run() code = %s, message = %s", result.Code, result.Message)
	}
	failed := count(events, func(e event.Event) bool {
		return e.Agent == "Coder" && e.Kind == event.KindThought && e.Status == event.StatusFailed
	})
	if failed != 1 {
		t.Errorf("vault failure thoughts = %d, want 1", failed)
	}
}

func TestEngine_ExecutionTimeout(t *testing.T) {
	t.Parallel()

	box := sandbox.NewNoop(func(ctx context.Context, _ map[string]string, _ string, _ time.Duration) (sandbox.RunResult, error) {
		<-ctx.Done()
		return sandbox.RunResult{}, ctx.Err()
	})
	f := newFixture(scripted(approveReply), box, application.WithExecutionTimeout(20*time.Millisecond))
	result, events := run(t, context.Background(), f.engine(t), "sleep forever")

	if result.Code != task.CodeExecutionTimeout {
		t.Fatalf("Code = %s, want EXECUTION_TIMEOUT", result.Code)
	}
	if result.Execution == nil || result.Execution.Status != task.ExecutionTimedOut {
		t.Errorf("Execution = %+v, want timed_out", result.Execution)
	}
	if box.Created() != 1 || box.Destroyed() != 1 {
		t.Errorf("sandbox created/destroyed = %d/%d, want 1/1", box.Created(), box.Destroyed())
	}
	last := assertSingleTerminal(t, events)
	if last.Code != string(task.CodeExecutionTimeout) {
		t.Errorf("terminal code = %s, want EXECUTION_TIMEOUT", last.Code)
	}
}

func TestEngine_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	box := sandbox.NewNoop(func(runCtx context.Context, _ map[string]string, _ string, _ time.Duration) (sandbox.RunResult, error) {
		cancel()
		<-runCtx.Done()
		return sandbox.RunResult{}, runCtx.Err()
	})
	f := newFixture(scripted(approveReply), box)
	result, events := run(t, ctx, f.engine(t), "list files in /tmp")

	if result.Code != task.CodeCancelled {
		t.Fatalf("Code = %s, want CANCELLED", result.Code)
	}
	if box.Destroyed() != 1 {
		t.Errorf("sandbox destroyed = %d, want 1", box.Destroyed())
	}
	last := assertSingleTerminal(t, events)
	if last.Code != string(task.CodeCancelled) {
		t.Errorf("terminal code = %s, want CANCELLED", last.Code)
	}
}

func TestEngine_CancelledBeforeRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newFixture(scripted(approveReply), listing())
	result, events := run(t, ctx, f.engine(t), "list files in /tmp")

	if result.Code != task.CodeCancelled {
		t.Fatalf("Code = %s, want CANCELLED", result.Code)
	}
	assertSingleTerminal(t, events)
	if f.sandbox.Created() != 0 {
		t.Errorf("sandbox created = %d, want 0", f.sandbox.Created())
	}
}

func TestEngine_ReasoningFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider *gateway.ScriptedProvider
		want     task.Code
	}{
		{
			name: "unavailable",
			provider: gateway.NewScriptedProvider().
				On("librarian", librarianReply).
				OnError("architect", errors.New("connection refused")),
			want: task.CodeReasoningUnavailable,
		},
		{
			name: "malformed",
			provider: gateway.NewScriptedProvider().
				On("librarian", librarianReply).
				On("architect", "I would rather not answer in JSON."),
			want: task.CodeMalformedOutput,
		},
		{
			name: "empty plan",
			provider: gateway.NewScriptedProvider().
				On("librarian", librarianReply).
				On("architect", `{"plan_steps": []}`),
			want: task.CodeMalformedOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(tt.provider, listing())
			result, events := run(t, context.Background(), f.engine(t), "list files in /tmp")

			if result.Code != tt.want {
				t.Fatalf("Code = %s, want %s", result.Code, tt.want)
			}
			last := assertSingleTerminal(t, events)
			if last.Code != string(tt.want) {
				t.Errorf("terminal code = %s, want %s", last.Code, tt.want)
			}
			if tt.provider.Calls("architect") != 2 {
				t.Errorf("architect calls = %d, want 2 (one retry)", tt.provider.Calls("architect"))
			}
		})
	}
}

func TestEngine_EmptyPlanIsRetried(t *testing.T) {
	t.Parallel()

	provider := gateway.NewScriptedProvider().
		On("librarian", librarianReply).
		On("architect", `{"plan_steps": []}`, planReply).
		On("critic", approveReply)
	f := newFixture(provider, listing())
	result, events := run(t, context.Background(), f.engine(t), "list files in /tmp")

	if !result.Succeeded() {
		t.Fatalf("Run() code = %s, message = %s", result.Code, result.Message)
	}
	if got := provider.Calls("architect"); got != 2 {
		t.Errorf("architect calls = %d, want 2", got)
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
	if n := count(events, isProposal); n != 1 {
		t.Errorf("plans = %d, want 1", n)
	}
}

func TestEngine_FailedScriptCompletes(t *testing.T) {
	t.Parallel()

	box := sandbox.NewNoop(func(context.Context, map[string]string, string, time.Duration) (sandbox.RunResult, error) {
		return sandbox.RunResult{Stderr: "ls: cannot access", ExitCode: 2}, nil
	})
	f := newFixture(scripted(approveReply), box)
	result, events := run(t, context.Background(), f.engine(t), "list files in /missing")

	if !result.Succeeded() {
		t.Fatalf("Run() code = %s, want a completed invocation", result.Code)
	}
	if result.Execution.Status != task.ExecutionFailed {
		t.Errorf("Execution.Status = %s, want failed", result.Execution.Status)
	}
	last := assertSingleTerminal(t, events)
	if last.Kind != event.KindResult || last.Status != event.StatusFailed {
		t.Errorf("terminal = %+v, want failed result", last)
	}
	if !strings.Contains(result.Output, "cannot access") {
		t.Errorf("Output = %q, want stderr", result.Output)
	}
}

func TestEngine_SandboxCreateFailure(t *testing.T) {
	t.Parallel()

	box := brokenSandbox{NoopProvider: listing(), create: func() error { return errors.New("no capacity") }}
	engine, err := application.NewEngineWithOptions(
		application.WithGateway(newGateway(t, scripted(approveReply))),
		application.WithDeterministicScript(true),
		application.WithSandbox(box),
	)
	if err != nil {
		t.Fatalf("NewEngineWithOptions() error = %v", err)
	}

	result, events := run(t, context.Background(), engine, "list files in /tmp")
	if result.Code != task.CodeSandboxFailed {
		t.Fatalf("Code = %s, want SANDBOX_FAILED", result.Code)
	}
	assertSingleTerminal(t, events)
}

func TestEngine_PanicBecomesInternal(t *testing.T) {
	t.Parallel()

	box := brokenSandbox{NoopProvider: listing(), create: func() error { panic("sandbox driver bug") }}
	engine, err := application.NewEngineWithOptions(
		application.WithGateway(newGateway(t, scripted(approveReply))),
		application.WithDeterministicScript(true),
		application.WithSandbox(box),
	)
	if err != nil {
		t.Fatalf("NewEngineWithOptions() error = %v", err)
	}

	result, events := run(t, context.Background(), engine, "list files in /tmp")
	if result.Code != task.CodeInternal {
		t.Fatalf("Code = %s, want INTERNAL", result.Code)
	}
	last := assertSingleTerminal(t, events)
	if strings.Contains(last.Content, "sandbox driver bug") {
		t.Errorf("terminal message leaks panic value: %q", last.Content)
	}
}

func TestEngine_Run(t *testing.T) {
	t.Parallel()

	f := newFixture(scripted(rejectReply), listing())
	engine := f.engine(t)

	if _, err := engine.Run(context.Background(), "", "user-1"); !errors.Is(err, task.ErrInvalidInput) {
		t.Errorf("Run() error = %v, want ErrInvalidInput", err)
	}
	if _, err := engine.Run(context.Background(), "list files", " "); !errors.Is(err, task.ErrInvalidInput) {
		t.Errorf("Run() error = %v, want ErrInvalidInput", err)
	}

	result, err := engine.Run(context.Background(), "list files in /tmp", "user-1")
	if task.CodeOf(err) != task.CodeBudgetExhausted {
		t.Errorf("Run() error = %v, want PLAN_REJECTED_BUDGET_EXHAUSTED", err)
	}
	if result.RunID == "" {
		t.Error("RunID should be set")
	}
}

func TestEngine_Stream(t *testing.T) {
	t.Parallel()

	f := newFixture(scripted(approveReply), listing())
	events, err := f.engine(t).Stream(context.Background(), "list files in /tmp", "user-1")
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var got []event.Event
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case e, ok := <-events:
			if !ok {
				done = true
				continue
			}
			got = append(got, e)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}

	last := assertSingleTerminal(t, got)
	if last.Kind != event.KindResult {
		t.Errorf("terminal kind = %s, want result", last.Kind)
	}
}

func TestInvocation_RunTwice(t *testing.T) {
	t.Parallel()

	f := newFixture(scripted(approveReply), listing())
	inv, err := f.engine(t).NewInvocation("list files in /tmp", "user-1")
	if err != nil {
		t.Fatalf("NewInvocation() error = %v", err)
	}

	first := inv.Run(context.Background())
	if !first.Succeeded() {
		t.Fatalf("first Run() code = %s", first.Code)
	}
	second := inv.Run(context.Background())
	if second.Code != task.CodeInternal {
		t.Errorf("second Run() code = %s, want INTERNAL", second.Code)
	}
	if f.sandbox.Created() != 1 {
		t.Errorf("sandbox created = %d, want 1", f.sandbox.Created())
	}

	sub := inv.Subscribe()
	if _, ok := <-sub.Events(); ok {
		t.Error("subscribing after completion should yield a closed channel")
	}
}

type recorder struct {
	invocations []string
	stages      map[string]int
	sandbox     []string
}

func (r *recorder) ObserveInvocation(outcome string) { r.invocations = append(r.invocations, outcome) }
func (r *recorder) ObserveStage(stage string, _ time.Duration) {
	if r.stages == nil {
		r.stages = make(map[string]int)
	}
	r.stages[stage]++
}
func (r *recorder) ObserveSandbox(status string) { r.sandbox = append(r.sandbox, status) }
func (r *recorder) AddEventsDropped(int)         {}

func TestEngine_Metrics(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	f := newFixture(scripted(approveReply), listing(), application.WithRecorder(rec))
	result, _ := run(t, context.Background(), f.engine(t), "list files in /tmp")
	if !result.Succeeded() {
		t.Fatalf("Run() code = %s", result.Code)
	}

	if len(rec.invocations) != 1 || rec.invocations[0] != "success" {
		t.Errorf("invocations = %v, want [success]", rec.invocations)
	}
	for _, stage := range []string{"context", "planning", "execution"} {
		if rec.stages[stage] != 1 {
			t.Errorf("stage %s observed %d times, want 1", stage, rec.stages[stage])
		}
	}
	if len(rec.sandbox) != 1 || rec.sandbox[0] != "success" {
		t.Errorf("sandbox = %v, want [success]", rec.sandbox)
	}
}

func TestEngine_SandboxSeesRunContext(t *testing.T) {
	t.Parallel()

	var runID, userID string
	box := sandbox.NewNoop(func(ctx context.Context, _ map[string]string, _ string, _ time.Duration) (sandbox.RunResult, error) {
		runID, userID = task.RunFromContext(ctx)
		return sandbox.RunResult{}, nil
	})
	engine := newFixture(scripted(approveReply), box).engine(t)

	result, _ := run(t, context.Background(), engine, "list temp files")
	if runID != result.RunID || userID == "" {
		t.Errorf("RunFromContext() = %q, %q, want run %s and its user", runID, userID, result.RunID)
	}
}
