package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/domain/specialist"
	"github.com/felixgeelhaar/roundtable/domain/task"
	"github.com/felixgeelhaar/roundtable/infrastructure/gateway"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
)

// destroyTimeout bounds sandbox release, which runs even after cancellation.
const destroyTimeout = 10 * time.Second

// Script is the program executed for an approved plan.
type Script struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

var scriptSchema = gateway.MustSchemaFor[Script]()

const scriptTemplate = `import subprocess
import sys

steps = %s

for i, step in enumerate(steps, 1):
    print(f"[{i}] {step}", flush=True)
    if not step.startswith("$ "):
        continue
    proc = subprocess.run(step[2:], shell=True, capture_output=True, text=True)
    sys.stdout.write(proc.stdout)
    sys.stderr.write(proc.stderr)
    if proc.returncode != 0:
        sys.exit(proc.returncode)
`

// ScriptFromSteps deterministically turns plan steps into a Python script.
// Every step is echoed in order; steps written as "$ command" are run in
// the sandbox shell and stop the script on a non-zero exit.
func ScriptFromSteps(plan task.Plan) Script {
	steps, _ := json.Marshal(plan.Steps)
	return Script{Language: "python", Code: fmt.Sprintf(scriptTemplate, steps)}
}

// execute runs the plan in a fresh sandbox. The sandbox is destroyed
// exactly once, whether the run succeeds, times out or is cancelled.
func (inv *Invocation) execute(ctx context.Context) (*task.ExecutionResult, error) {
	e := inv.engine
	s := inv.state

	inv.emit(event.Thought(agentCoder, "Starting sandbox execution...", event.StatusRunning))

	env := inv.fetchSecrets(ctx)
	inv.redactor.AddMap(env)

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	script, err := inv.writeScript(ctx)
	if err != nil {
		return nil, err
	}

	inv.emit(event.ToolUse(agentCoder, task.DefaultTool, map[string]any{
		"code":     script.Code,
		"language": script.Language,
	}))

	handle, err := e.sandbox.Create(ctx, env)
	if err != nil {
		if cerr := checkpoint(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, task.NewError(task.CodeSandboxFailed, "sandbox could not be created", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), destroyTimeout)
		defer cancel()
		if err := e.sandbox.Destroy(dctx, handle); err != nil {
			logging.Warn().
				Add(logging.RunID(s.RunID)).
				Add(logging.Component(e.sandbox.Name())).
				Add(logging.ErrorField(err)).
				Msg("sandbox release failed")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.executionTimeout)
	defer cancel()

	run, err := e.sandbox.Run(runCtx, handle, script.Code, e.executionTimeout)
	timedOut := run.TimedOut
	if err != nil {
		if cerr := checkpoint(ctx); cerr != nil {
			return nil, cerr
		}
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, task.NewError(task.CodeSandboxFailed, "sandbox run failed", err)
		}
		timedOut = true
	}

	result := &task.ExecutionResult{
		Stdout:    inv.redactor.Redact(run.Stdout),
		Stderr:    inv.redactor.Redact(run.Stderr),
		Artifacts: run.Files,
		ExitCode:  run.ExitCode,
		Duration:  run.Duration,
	}
	if timedOut {
		result.Status = task.ExecutionTimedOut
		result.Code = task.CodeExecutionTimeout
		result.Error = fmt.Sprintf("execution exceeded %s", e.executionTimeout)
	} else {
		result.Status = task.ClassifyExit(run.ExitCode, run.Stderr)
		if result.Status == task.ExecutionFailed {
			result.Error = fmt.Sprintf("script exited with code %d", run.ExitCode)
		}
	}
	if result.Stdout != "" {
		result.Results = strings.Split(strings.TrimRight(result.Stdout, "\n"), "\n")
	}

	s.Artifacts = task.Artifacts{
		Files:     result.Artifacts,
		Stdout:    result.Stdout,
		Stderr:    result.Stderr,
		LastError: result.Error,
	}
	e.metrics.ObserveSandbox(string(result.Status))

	logging.Info().
		Add(logging.RunID(s.RunID)).
		Add(logging.Stage(stageExecution)).
		Add(logging.Component(e.sandbox.Name())).
		Add(logging.Str("status", string(result.Status))).
		Add(logging.Duration(result.Duration)).
		Msg("sandbox run finished")

	status := event.StatusApproved
	if !result.Status.Succeeded() {
		status = event.StatusFailed
	}
	inv.emit(event.Thought(agentCoder, "Execution finalized.", status))

	if timedOut {
		return result, task.NewError(task.CodeExecutionTimeout, result.Error, nil)
	}
	return result, nil
}

// fetchSecrets returns the user's secrets as sandbox env. A failing vault
// degrades to an empty env.
func (inv *Invocation) fetchSecrets(ctx context.Context) map[string]string {
	e := inv.engine
	if e.secrets == nil {
		return map[string]string{}
	}

	env, err := e.secrets.GetAll(ctx, inv.state.UserID)
	if err != nil {
		logging.Warn().
			Add(logging.RunID(inv.state.RunID)).
			Add(logging.Stage(stageExecution)).
			Add(logging.Code(string(task.CodeSecretFetchFailed))).
			Add(logging.ErrorField(err)).
			Msg("secret fetch failed, running without credentials")
		inv.emit(event.Thought(agentCoder, "Secret vault unavailable. Running without credentials.", event.StatusFailed))
		return map[string]string{}
	}
	if env == nil {
		return map[string]string{}
	}
	return env
}

// writeScript asks the coder for a script unless the engine is configured
// for ScriptFromSteps.
func (inv *Invocation) writeScript(ctx context.Context) (Script, error) {
	s := inv.state
	if inv.engine.deterministicScript {
		return ScriptFromSteps(*s.Plan), nil
	}

	script, err := gateway.InvokeAs[Script](ctx, inv.engine.gateway, gateway.Call{
		Role:       specialist.RoleCoder,
		Prompt:     "Execute steps:\n" + strings.Join(s.Plan.Steps, "\n"),
		Extensions: s.Extensions,
	}, scriptSchema)
	if err != nil {
		return Script{}, err
	}
	if strings.TrimSpace(script.Code) == "" {
		return Script{}, task.NewError(task.CodeMalformedOutput, "coder returned an empty script", nil)
	}
	if script.Language == "" {
		script.Language = "python"
	}
	return script, nil
}
