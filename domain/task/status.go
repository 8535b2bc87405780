// Package task provides the per-invocation domain model of the orchestration engine.
package task

// Status is the loop status of a task.
type Status string

// Canonical task statuses.
const (
	StatusPlanning  Status = "planning"  // Context retrieval and plan/critique loop
	StatusExecuting Status = "executing" // Sandbox execution
	StatusBlocked   Status = "blocked"   // Iteration budget exhausted without approval
	StatusFinished  Status = "finished"  // Terminal
)

// transitions lists the statuses reachable from each status.
var transitions = map[Status][]Status{
	StatusPlanning:  {StatusExecuting, StatusBlocked, StatusFinished},
	StatusBlocked:   {StatusExecuting, StatusFinished},
	StatusExecuting: {StatusFinished},
	StatusFinished:  {},
}

// IsValid returns true if the status is a recognized canonical status.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal returns true if no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusFinished
}

// CanTransitionTo reports whether moving from s to next is a forward transition.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}
