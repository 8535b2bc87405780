package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/domain/specialist"
	"github.com/felixgeelhaar/roundtable/domain/task"
	"github.com/felixgeelhaar/roundtable/infrastructure/gateway"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
	"github.com/felixgeelhaar/roundtable/infrastructure/statemachine"
)

var (
	planSchema    = gateway.MustSchemaFor[task.Plan](gateway.NonEmptyList("plan_steps"))
	verdictSchema = gateway.MustSchemaFor[task.Verdict]()
)

// planLoop alternates architect proposals and critic verdicts until a plan
// is approved or the iteration budget is spent.
func (inv *Invocation) planLoop(ctx context.Context) (statemachine.Outcome, error) {
	machine, err := statemachine.NewPlanCritiqueMachine()
	if err != nil {
		return statemachine.OutcomeBlocked, task.NewError(task.CodeInternal, "plan loop unavailable", err)
	}
	mctx := statemachine.NewContext(inv.engine.maxIterations)
	loop := statemachine.NewLoop(machine, mctx)
	defer loop.Stop()

	s := inv.state
	for {
		if err := checkpoint(ctx); err != nil {
			return statemachine.OutcomeBlocked, err
		}

		plan, err := inv.proposePlan(ctx, mctx.Feedback)
		if err != nil {
			return statemachine.OutcomeBlocked, err
		}
		if err := loop.Propose(&plan); err != nil {
			return statemachine.OutcomeBlocked, task.NewError(task.CodeInternal, "plan loop out of step", err)
		}
		s.Plan = mctx.Plan
		s.Iteration = mctx.Iteration

		if err := checkpoint(ctx); err != nil {
			return statemachine.OutcomeBlocked, err
		}

		verdict, err := inv.critique(ctx, plan, mctx.Iteration)
		if err != nil {
			return statemachine.OutcomeBlocked, err
		}
		outcome, err := loop.Judge(&verdict)
		if err != nil {
			return statemachine.OutcomeBlocked, task.NewError(task.CodeInternal, "plan loop out of step", err)
		}
		s.Verdict = mctx.Verdict

		logging.Info().
			Add(logging.RunID(s.RunID)).
			Add(logging.Stage(stagePlanning)).
			Add(logging.Iteration(mctx.Iteration)).
			Add(logging.Approved(verdict.Approved)).
			Add(logging.Str("outcome", outcome.String())).
			Msg("plan judged")

		if outcome == statemachine.OutcomeApproved {
			inv.emit(event.Thought(agentCritic, "Plan meets safety and efficiency standards.", event.StatusApproved))
			return outcome, nil
		}

		inv.emit(event.Rejection(agentCritic, "Plan rejected. Requesting refinement.", map[string]any{
			"feedback": verdict.Feedback,
			"risks":    verdict.Risks,
			"score":    verdict.Score,
		}))
		if outcome == statemachine.OutcomeBlocked {
			return outcome, nil
		}
	}
}

// proposePlan asks the architect for a plan, refining the previous one
// when the critic left feedback.
func (inv *Invocation) proposePlan(ctx context.Context, feedback string) (task.Plan, error) {
	s := inv.state

	var prompt string
	if s.Iteration == 0 {
		inv.emit(event.Thought(agentArchitect, "Designing execution strategy...", event.StatusRunning))
		prompt = fmt.Sprintf("Design plan for: %s\nContext: %s", s.Objective, s.ContextSummary)
	} else {
		inv.emit(event.Thought(agentArchitect, "Refining plan based on feedback...", event.StatusRunning))
		prompt = fmt.Sprintf("Update plan for: %s\nContext: %s\nPrevious Feedback: %s", s.Objective, s.ContextSummary, feedback)
	}

	proposal, err := gateway.InvokeAs[task.Plan](ctx, inv.engine.gateway, gateway.Call{
		Role:       specialist.RoleArchitect,
		Prompt:     prompt,
		Extensions: s.Extensions,
	}, planSchema)
	if err != nil {
		return task.Plan{}, err
	}

	plan, err := task.NewPlan(proposal.Steps, proposal.RequiredTools)
	if err != nil {
		if errors.Is(err, task.ErrEmptyPlan) {
			return task.Plan{}, task.NewError(task.CodeMalformedOutput, "architect proposed an empty plan", err)
		}
		return task.Plan{}, err
	}

	inv.emit(event.Thought(agentArchitect, "Plan proposed.", event.StatusApproved).WithInput(plan.Steps))
	return plan, nil
}

// critique asks the critic to audit plan. The verdict is taken as returned:
// is_approved alone decides, whatever the score.
func (inv *Invocation) critique(ctx context.Context, plan task.Plan, attempt int) (task.Verdict, error) {
	inv.emit(event.Thought(agentCritic, fmt.Sprintf("Auditing plan (Attempt %d)...", attempt), event.StatusRunning))

	return gateway.InvokeAs[task.Verdict](ctx, inv.engine.gateway, gateway.Call{
		Role:       specialist.RoleCritic,
		Prompt:     critiquePrompt(inv.state.Objective, plan),
		Extensions: inv.state.Extensions,
	}, verdictSchema)
}

func critiquePrompt(objective string, plan task.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Audit plan for: %s\nPlan:", objective)
	for i, step := range plan.Steps {
		fmt.Fprintf(&b, "\n%d. %s", i+1, step)
	}
	fmt.Fprintf(&b, "\nRequired tools: %s", strings.Join(plan.RequiredTools, ", "))
	return b.String()
}
