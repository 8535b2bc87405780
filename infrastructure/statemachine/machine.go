// Package statemachine provides the statekit plan/critique loop.
package statemachine

import (
	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/roundtable/domain/task"
)

// DefaultMaxIterations caps plan attempts when none is configured.
const DefaultMaxIterations = 3

// Context carries the loop state through the machine.
type Context struct {
	// Iteration is the number of plans proposed so far.
	Iteration int
	// MaxIterations caps plan attempts.
	MaxIterations int
	// Plan is the most recent proposal.
	Plan *task.Plan
	// Verdict is the most recent critique.
	Verdict *task.Verdict
	// Feedback is the critic feedback carried into the next plan prompt.
	Feedback string
}

// NewContext creates a machine context. A non-positive max uses the default.
func NewContext(maxIterations int) *Context {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Context{MaxIterations: maxIterations}
}

// State IDs.
const (
	StatePlanning   statekit.StateID = "planning"
	StateCritiquing statekit.StateID = "critiquing"
	StateApproved   statekit.StateID = "approved"
	StateBlocked    statekit.StateID = "blocked"
)

// Event types.
const (
	EventProposed statekit.EventType = "PROPOSED"
	EventApprove  statekit.EventType = "APPROVE"
	EventReject   statekit.EventType = "REJECT"
	EventExhaust  statekit.EventType = "EXHAUST"
)

const machineID = "plan-critique"

// NewPlanCritiqueMachine creates the plan/critique statechart.
func NewPlanCritiqueMachine() (*statekit.MachineConfig[*Context], error) {
	return statekit.NewMachine[*Context](machineID).
		WithInitial(StatePlanning).
		WithContext(&Context{}).
		WithAction("recordPlan", recordPlan).
		WithAction("recordVerdict", recordVerdict).
		WithGuard("budgetRemaining", guardBudgetRemaining).
		State(StatePlanning).
			On(EventProposed).Target(StateCritiquing).Do("recordPlan").
			Done().
		State(StateCritiquing).
			On(EventApprove).Target(StateApproved).Do("recordVerdict").
			On(EventReject).Target(StatePlanning).Guard("budgetRemaining").Do("recordVerdict").
			On(EventExhaust).Target(StateBlocked).Do("recordVerdict").
			Done().
		State(StateApproved).
			Final().
			Done().
		State(StateBlocked).
			Final().
			Done().
		Build()
}
