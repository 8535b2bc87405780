package statemachine

import "github.com/felixgeelhaar/statekit"

// guardBudgetRemaining allows another plan attempt while iterations remain.
func guardBudgetRemaining(ctx *Context, _ statekit.Event) bool {
	if ctx == nil {
		return false
	}
	return ctx.Iteration < ctx.MaxIterations
}
