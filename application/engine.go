// Package application provides the round-table orchestration engine.
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/domain/knowledge"
	"github.com/felixgeelhaar/roundtable/domain/task"
	"github.com/felixgeelhaar/roundtable/domain/telemetry"
	"github.com/felixgeelhaar/roundtable/domain/vault"
	"github.com/felixgeelhaar/roundtable/infrastructure/eventbus"
	"github.com/felixgeelhaar/roundtable/infrastructure/gateway"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
	"github.com/felixgeelhaar/roundtable/infrastructure/observability"
	"github.com/felixgeelhaar/roundtable/infrastructure/security/sandbox"
	"github.com/felixgeelhaar/roundtable/infrastructure/security/secrets"
	"github.com/felixgeelhaar/roundtable/infrastructure/statemachine"
)

// Stage agents as they appear on the event stream.
const (
	agentOrchestrator = "Orchestrator"
	agentLibrarian    = "Librarian"
	agentArchitect    = "Architect"
	agentCritic       = "Critic"
	agentCoder        = "Coder"
)

// Stage names used for spans and metrics.
const (
	stageContext   = "context"
	stagePlanning  = "planning"
	stageExecution = "execution"
)

// Reasoner issues role-bound reasoning calls. *gateway.Gateway implements it.
type Reasoner interface {
	Invoke(ctx context.Context, call gateway.Call) (gateway.Response, error)
}

// EngineConfig contains configuration for the engine.
type EngineConfig struct {
	Gateway             Reasoner
	Relationships       knowledge.RelationshipStore
	Semantic            knowledge.SemanticStore
	Secrets             vault.Store
	Sandbox             sandbox.Provider
	MaxIterations       int
	BlockedPolicy       BlockedPolicy
	ExecutionTimeout    time.Duration
	DeterministicScript bool
	ContextLimit        int
	BufferSize          int
	Sinks               []event.Sink
	Journal             event.Journal
	Tracer              telemetry.Tracer
	Metrics             Recorder
}

// Engine runs invocations through the fixed pipeline
// Context Retrieval → Plan ⇄ Critique → Execution.
// Invocations share nothing but the configured stores.
type Engine struct {
	gateway             Reasoner
	relationships       knowledge.RelationshipStore
	semantic            knowledge.SemanticStore
	secrets             vault.Store
	sandbox             sandbox.Provider
	maxIterations       int
	blockedPolicy       BlockedPolicy
	executionTimeout    time.Duration
	deterministicScript bool
	contextLimit        int
	bufferSize          int
	sinks               []event.Sink
	journal             event.Journal
	tracer              telemetry.Tracer
	metrics             Recorder
}

// DefaultContextLimit is the number of similar facts retrieved per invocation.
const DefaultContextLimit = 5

// NewEngine creates a new engine with the given configuration.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if config.Sandbox == nil {
		return nil, errors.New("sandbox provider is required")
	}

	e := &Engine{
		gateway:             config.Gateway,
		relationships:       config.Relationships,
		semantic:            config.Semantic,
		secrets:             config.Secrets,
		sandbox:             config.Sandbox,
		maxIterations:       config.MaxIterations,
		blockedPolicy:       config.BlockedPolicy,
		executionTimeout:    config.ExecutionTimeout,
		deterministicScript: config.DeterministicScript,
		contextLimit:        config.ContextLimit,
		bufferSize:          config.BufferSize,
		sinks:               config.Sinks,
		journal:             config.Journal,
		tracer:              config.Tracer,
		metrics:             config.Metrics,
	}

	// Set defaults
	if e.maxIterations <= 0 {
		e.maxIterations = statemachine.DefaultMaxIterations
	}
	if e.blockedPolicy == "" {
		e.blockedPolicy = BlockedPolicyFail
	}
	if !e.blockedPolicy.IsValid() {
		return nil, fmt.Errorf("unknown blocked policy %q", e.blockedPolicy)
	}
	if e.executionTimeout <= 0 {
		e.executionTimeout = sandbox.DefaultTimeout
	}
	if e.contextLimit <= 0 {
		e.contextLimit = DefaultContextLimit
	}
	if e.bufferSize <= 0 {
		e.bufferSize = eventbus.DefaultBufferSize
	}
	if e.tracer == nil {
		e.tracer = observability.NewNoopTracer()
	}
	if e.metrics == nil {
		e.metrics = noopRecorder{}
	}

	return e, nil
}

// Result is the outcome of one invocation.
type Result struct {
	RunID      string
	Status     task.Status
	Output     string
	Code       task.Code
	Message    string
	Iterations int
	Plan       *task.Plan
	Verdict    *task.Verdict
	Execution  *task.ExecutionResult
	Events     []event.Event
	Duration   time.Duration
}

// Succeeded reports whether the invocation ended with a result event.
func (r Result) Succeeded() bool {
	return r.Code == ""
}

// Err returns the coded error of a failed invocation, or nil.
func (r Result) Err() error {
	if r.Code == "" {
		return nil
	}
	return task.NewError(r.Code, r.Message, nil)
}

// Invocation is one run of the pipeline. Subscribe before calling Run to
// observe every event.
type Invocation struct {
	engine   *Engine
	state    *task.State
	bus      *eventbus.Bus
	redactor *secrets.Redactor
	started  atomic.Bool
}

// NewInvocation prepares an invocation. Empty objective or user ID fails
// with task.ErrInvalidInput.
func (e *Engine) NewInvocation(objective, userID string) (*Invocation, error) {
	runID := uuid.NewString()
	state, err := task.NewState(runID, strings.TrimSpace(objective), strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}

	redactor := secrets.NewRedactor()
	bus := eventbus.New(runID,
		eventbus.WithBufferSize(e.bufferSize),
		eventbus.WithRedactor(redactor),
		eventbus.WithSinks(e.sinks...),
	)
	return &Invocation{engine: e, state: state, bus: bus, redactor: redactor}, nil
}

// RunID returns the invocation's run ID.
func (inv *Invocation) RunID() string {
	return inv.state.RunID
}

// Subscribe registers an observer. Delivery starts with the next event.
func (inv *Invocation) Subscribe() *eventbus.Subscription {
	return inv.bus.Subscribe()
}

// Run executes the pipeline once. It always ends with exactly one terminal
// event and closes the bus. A second call returns an INTERNAL result.
func (inv *Invocation) Run(ctx context.Context) (result Result) {
	if !inv.started.CompareAndSwap(false, true) {
		return Result{
			RunID:   inv.state.RunID,
			Status:  inv.state.Status,
			Code:    task.CodeInternal,
			Message: "invocation already started",
		}
	}

	e := inv.engine
	ctx = task.WithRun(ctx, inv.state.RunID, inv.state.UserID)
	ctx, span := e.tracer.StartSpan(ctx, "roundtable.invocation",
		telemetry.WithAttributes(telemetry.RunID(inv.state.RunID)),
	)

	logging.Info().
		Add(logging.RunID(inv.state.RunID)).
		Add(logging.UserID(inv.state.UserID)).
		Msg("invocation started")

	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Add(logging.RunID(inv.state.RunID)).
				Add(logging.Code(string(task.CodeInternal))).
				Add(logging.Str("panic", fmt.Sprint(r))).
				Msg("invocation panicked")
			result = inv.fail(task.NewError(task.CodeInternal, "internal error", fmt.Errorf("panic: %v", r)), nil)
		}
		inv.bus.Close()

		outcome := "success"
		if result.Code != "" {
			outcome = string(result.Code)
			span.SetStatus(telemetry.StatusCodeError, outcome)
		} else {
			span.SetStatus(telemetry.StatusCodeOK, "")
		}
		span.SetAttributes(
			telemetry.Outcome(outcome),
			telemetry.Iteration(inv.state.Iteration),
		)
		span.End()

		e.metrics.ObserveInvocation(outcome)
		if dropped := inv.bus.Dropped(); dropped > 0 {
			e.metrics.AddEventsDropped(int(dropped))
		}

		logging.Info().
			Add(logging.RunID(inv.state.RunID)).
			Add(logging.Code(string(result.Code))).
			Add(logging.Iteration(inv.state.Iteration)).
			Add(logging.Duration(result.Duration)).
			Msg("invocation finished")
	}()

	exec, err := inv.pipeline(ctx)
	if err != nil {
		return inv.fail(err, exec)
	}
	return inv.succeed(exec)
}

// pipeline runs the stages in order. Only the driver advances Status.
func (inv *Invocation) pipeline(ctx context.Context) (*task.ExecutionResult, error) {
	if err := inv.stage(ctx, stageContext, inv.retrieveContext); err != nil {
		return nil, err
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	var outcome statemachine.Outcome
	err := inv.stage(ctx, stagePlanning, func(ctx context.Context) error {
		var err error
		outcome, err = inv.planLoop(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	if outcome == statemachine.OutcomeBlocked {
		if err := inv.advance(task.StatusBlocked); err != nil {
			return nil, err
		}
		if inv.engine.blockedPolicy == BlockedPolicyFail {
			return nil, task.NewError(task.CodeBudgetExhausted,
				fmt.Sprintf("plan rejected %d times without approval", inv.state.Iteration), nil)
		}
		inv.emit(event.Thought(agentOrchestrator,
			"Iteration budget exhausted. Executing the last proposed plan without approval.", event.StatusRunning))
	}

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	if err := inv.advance(task.StatusExecuting); err != nil {
		return nil, err
	}

	var exec *task.ExecutionResult
	err = inv.stage(ctx, stageExecution, func(ctx context.Context) error {
		var err error
		exec, err = inv.execute(ctx)
		return err
	})
	return exec, err
}

// stage runs one pipeline stage inside a span and records its duration.
func (inv *Invocation) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := inv.engine.tracer.StartSpan(ctx, "roundtable."+name,
		telemetry.WithAttributes(
			telemetry.RunID(inv.state.RunID),
			telemetry.Stage(name),
		),
	)
	defer span.End()

	logging.Debug().
		Add(logging.RunID(inv.state.RunID)).
		Add(logging.Stage(name)).
		Msg("stage started")

	err := fn(ctx)
	inv.engine.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(telemetry.StatusCodeError, string(task.CodeOf(err)))
		return err
	}
	span.SetStatus(telemetry.StatusCodeOK, "")
	return nil
}

// emit publishes e and records the delivered event in the task history.
func (inv *Invocation) emit(e event.Event) {
	if delivered := inv.bus.Emit(e); delivered.Kind != "" {
		inv.state.Record(delivered)
	}
}

func (inv *Invocation) advance(to task.Status) error {
	if err := inv.state.Advance(to); err != nil {
		return task.NewError(task.CodeInternal, "invalid task transition", err)
	}
	return nil
}

// fail converts err into the single terminal error event.
func (inv *Invocation) fail(err error, exec *task.ExecutionResult) Result {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if task.CodeOf(err) == task.CodeInternal {
			err = task.NewError(task.CodeCancelled, "invocation cancelled", err)
		}
	}
	code := task.CodeOf(err)
	message := inv.redactor.Redact(task.MessageOf(err))

	logging.Error().
		Add(logging.RunID(inv.state.RunID)).
		Add(logging.Code(string(code))).
		Add(logging.Str("status", string(inv.state.Status))).
		Add(logging.ErrorField(errors.New(inv.redactor.Redact(err.Error())))).
		Msg("invocation failed")

	inv.state.Artifacts.LastError = message
	switch {
	case inv.state.Status == task.StatusBlocked:
		// A run that ends while blocked reports blocked as its final status.
		inv.state.EndTime = time.Now()
	case !inv.state.Status.IsTerminal():
		_ = inv.state.Advance(task.StatusFinished)
	}
	inv.emit(event.Failure(string(code), message))

	r := inv.result(exec)
	r.Code = code
	r.Message = message
	return r
}

// succeed emits the terminal result event. A script that exited non-zero
// still completes the invocation, with a failed result status.
func (inv *Invocation) succeed(exec *task.ExecutionResult) Result {
	output := ""
	if exec != nil {
		output = exec.Stdout
		if !exec.Status.Succeeded() && exec.Stderr != "" {
			output = strings.TrimSpace(strings.Join([]string{exec.Stdout, exec.Stderr}, "\n"))
		}
	}

	if err := inv.advance(task.StatusFinished); err != nil {
		return inv.fail(err, exec)
	}

	terminal := event.Result(output)
	if exec != nil && !exec.Status.Succeeded() {
		terminal.Content = string(exec.Status)
		terminal.Status = event.StatusFailed
	}
	inv.emit(terminal)

	r := inv.result(exec)
	r.Output = inv.redactor.Redact(output)
	return r
}

func (inv *Invocation) result(exec *task.ExecutionResult) Result {
	s := inv.state
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return Result{
		RunID:      s.RunID,
		Status:     s.Status,
		Iterations: s.Iteration,
		Plan:       s.Plan,
		Verdict:    s.Verdict,
		Execution:  exec,
		Events:     s.History,
		Duration:   end.Sub(s.StartTime),
	}
}

// checkpoint observes cancellation between stages.
func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return task.NewError(task.CodeCancelled, "invocation cancelled", err)
	}
	return nil
}

// Run executes one invocation and waits for its result. The returned error
// carries the stable code of a failed invocation.
func (e *Engine) Run(ctx context.Context, objective, userID string) (Result, error) {
	inv, err := e.NewInvocation(objective, userID)
	if err != nil {
		return Result{}, err
	}
	res := inv.Run(ctx)
	return res, res.Err()
}

// Stream starts an invocation in the background and returns its events.
// The channel closes after the terminal event.
func (e *Engine) Stream(ctx context.Context, objective, userID string) (<-chan event.Event, error) {
	inv, err := e.NewInvocation(objective, userID)
	if err != nil {
		return nil, err
	}
	sub := inv.Subscribe()
	go inv.Run(ctx)
	return sub.Events(), nil
}
