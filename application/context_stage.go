package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/domain/knowledge"
	"github.com/felixgeelhaar/roundtable/domain/specialist"
	"github.com/felixgeelhaar/roundtable/domain/task"
	"github.com/felixgeelhaar/roundtable/infrastructure/gateway"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
)

// retrieveContext gathers the user's extensions and facts and asks the
// librarian to summarize them. Store failures degrade to empty results;
// only a failed reasoning call is fatal.
func (inv *Invocation) retrieveContext(ctx context.Context) error {
	e := inv.engine
	s := inv.state

	inv.emit(event.Thought(agentLibrarian, "Retrieving user context and installed skills...", event.StatusRunning))

	announced := make(map[string]bool)
	extensions := degrade(ctx, inv, announced, "relationship", e.relationships != nil,
		func(ctx context.Context) ([]string, error) {
			return e.relationships.FindEnabledExtensions(ctx, s.UserID)
		})
	facts := degrade(ctx, inv, announced, "relationship", e.relationships != nil,
		func(ctx context.Context) ([]knowledge.Fact, error) {
			return e.relationships.FindRelatedFacts(ctx, s.UserID)
		})
	similar := degrade(ctx, inv, announced, "semantic", e.semantic != nil,
		func(ctx context.Context) ([]knowledge.Fact, error) {
			return e.semantic.SearchSimilar(ctx, s.UserID, s.Objective, e.contextLimit)
		})

	if err := checkpoint(ctx); err != nil {
		return err
	}

	resp, err := e.gateway.Invoke(ctx, gateway.Call{
		Role:       specialist.RoleLibrarian,
		Prompt:     contextPrompt(s.Objective, facts, similar),
		Extensions: extensions,
	})
	if err != nil {
		return err
	}

	s.ContextSummary = strings.TrimSpace(resp.Text)
	s.Extensions = extensions

	inv.emit(event.Thought(agentLibrarian,
		fmt.Sprintf("Context synchronized. Found %d active cognitive modules.", len(extensions)),
		event.StatusApproved))
	return nil
}

// degrade runs one store query. A missing store or a failed query yields an
// empty, non-nil result. A failure is logged, and announced on the stream
// once per store. Failures caused by cancellation are left to the caller.
func degrade[T any](ctx context.Context, inv *Invocation, announced map[string]bool, store string, configured bool, query func(context.Context) ([]T, error)) []T {
	if !configured {
		return []T{}
	}

	out, err := query(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return []T{}
		}
		logging.Warn().
			Add(logging.RunID(inv.state.RunID)).
			Add(logging.Stage(stageContext)).
			Add(logging.Code(string(task.CodeIntegrationDegraded))).
			Add(logging.Str("store", store)).
			Add(logging.ErrorField(err)).
			Msg("store unavailable, continuing with empty context")
		if !announced[store] {
			announced[store] = true
			inv.emit(event.Thought(agentLibrarian,
				fmt.Sprintf("The %s store is unreachable. Continuing without it.", store),
				event.StatusFailed))
		}
		return []T{}
	}
	if out == nil {
		return []T{}
	}
	return out
}

func contextPrompt(objective string, facts, similar []knowledge.Fact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Context for task: %s", objective)

	if len(facts) > 0 {
		b.WriteString("\n\nKnown facts about the user:")
		for _, f := range facts {
			fmt.Fprintf(&b, "\n- [%s] %s", f.Type, f.Content)
		}
	}
	if len(similar) > 0 {
		b.WriteString("\n\nRelated memories:")
		for _, f := range similar {
			fmt.Fprintf(&b, "\n- %s", f.Content)
		}
	}
	return b.String()
}
