package statemachine

import (
	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/roundtable/domain/task"
)

// recordPlan stores the proposed plan and counts the attempt.
func recordPlan(ctx **Context, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	c := *ctx
	if plan, ok := event.Payload.(*task.Plan); ok {
		c.Plan = plan
	}
	c.Iteration++
	c.Verdict = nil
}

// recordVerdict stores the critique and its feedback for the next prompt.
func recordVerdict(ctx **Context, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	c := *ctx
	if verdict, ok := event.Payload.(*task.Verdict); ok {
		c.Verdict = verdict
		c.Feedback = verdict.Feedback
	}
}
