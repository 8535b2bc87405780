package statemachine

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/roundtable/domain/task"
)

// ErrUnexpectedStep is returned when a step is driven out of order.
var ErrUnexpectedStep = errors.New("unexpected loop step")

// Outcome is the result of judging one plan.
type Outcome int

const (
	// OutcomeRevise means another plan attempt follows.
	OutcomeRevise Outcome = iota
	// OutcomeApproved means the plan was approved.
	OutcomeApproved
	// OutcomeBlocked means the attempt budget is spent without approval.
	OutcomeBlocked
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "revise"
	}
}

// Loop drives one invocation's plan/critique machine.
type Loop struct {
	interp *statekit.Interpreter[*Context]
	ctx    *Context
}

// NewLoop starts a loop on the given machine.
func NewLoop(machine *statekit.MachineConfig[*Context], ctx *Context) *Loop {
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **Context) {
		*c = ctx
	})
	interp.Start()
	return &Loop{interp: interp, ctx: ctx}
}

// Propose records a plan. It is valid only in the planning state.
func (l *Loop) Propose(plan *task.Plan) error {
	if !l.interp.Matches(StatePlanning) {
		return fmt.Errorf("%w: propose in %s", ErrUnexpectedStep, l.State())
	}
	l.interp.Send(statekit.Event{Type: EventProposed, Payload: plan})
	return nil
}

// Judge applies a verdict to the current plan. A rejection loops back to
// planning while budget remains and otherwise blocks.
func (l *Loop) Judge(verdict *task.Verdict) (Outcome, error) {
	if !l.interp.Matches(StateCritiquing) {
		return OutcomeRevise, fmt.Errorf("%w: judge in %s", ErrUnexpectedStep, l.State())
	}

	event := statekit.Event{Payload: verdict}
	if verdict != nil && verdict.Approved {
		event.Type = EventApprove
		l.interp.Send(event)
		return OutcomeApproved, nil
	}

	event.Type = EventReject
	l.interp.Send(event)
	if l.interp.Matches(StatePlanning) {
		return OutcomeRevise, nil
	}

	// The budget guard held the machine in critiquing.
	event.Type = EventExhaust
	l.interp.Send(event)
	return OutcomeBlocked, nil
}

// State returns the current state.
func (l *Loop) State() statekit.StateID {
	return l.interp.State().Value
}

// Done reports whether the loop reached approved or blocked.
func (l *Loop) Done() bool {
	return l.interp.Done()
}

// Context returns the loop context.
func (l *Loop) Context() *Context {
	return l.ctx
}

// Stop stops the interpreter.
func (l *Loop) Stop() {
	l.interp.Stop()
}
