package task

import "time"

// ExecutionStatus is the terminal status of a sandbox execution.
type ExecutionStatus string

// Execution statuses.
const (
	ExecutionSuccess  ExecutionStatus = "success"
	ExecutionPartial  ExecutionStatus = "partial"
	ExecutionFailed   ExecutionStatus = "failed"
	ExecutionTimedOut ExecutionStatus = "timed_out"
)

// Succeeded returns true for success and partial executions.
func (s ExecutionStatus) Succeeded() bool {
	return s == ExecutionSuccess || s == ExecutionPartial
}

// ExecutionResult is the outcome of running a plan in the sandbox.
type ExecutionResult struct {
	Status    ExecutionStatus `json:"status"`
	Stdout    string          `json:"stdout"`
	Stderr    string          `json:"stderr"`
	Results   []string        `json:"results,omitempty"`
	Artifacts []string        `json:"artifacts,omitempty"`
	ExitCode  int             `json:"exit_code"`
	Error     string          `json:"error,omitempty"`
	Code      Code            `json:"code,omitempty"`
	Duration  time.Duration   `json:"duration"`
}

// ClassifyExit maps a completed process to an execution status.
func ClassifyExit(exitCode int, stderr string) ExecutionStatus {
	switch {
	case exitCode != 0:
		return ExecutionFailed
	case stderr != "":
		return ExecutionPartial
	default:
		return ExecutionSuccess
	}
}
