package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/roundtable/domain/specialist"
)

const synthesizerInstructions = "Generate a precision system prompt for a specialized AI agent."

// Synthesizer generates transient specialists for roles the registry does
// not know. It calls the provider directly since the registry itself is
// the resolver being served.
type Synthesizer struct {
	gateway *Gateway
}

// Synthesizer returns a synthesizer backed by this gateway's provider.
func (g *Gateway) Synthesizer() *Synthesizer {
	return &Synthesizer{gateway: g}
}

// Synthesize makes one fast-tier call producing the instructions of an
// Expert_{role} specialist.
func (s *Synthesizer) Synthesize(ctx context.Context, role specialist.Role) (specialist.Entry, error) {
	g := s.gateway
	req := Request{
		Role:   "synthesizer",
		Model:  g.model(specialist.TierFast),
		System: synthesizerInstructions,
		Prompt: fmt.Sprintf("Create a system prompt for an agent with the role: %s.\n"+
			"Keep it concise and focus on expert-level domain knowledge.", role),
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
	}

	resp, err := g.executor.Execute(ctx, func(ctx context.Context) (Response, error) {
		return g.attempt(ctx, req, nil)
	})
	if err != nil {
		return specialist.Entry{}, fmt.Errorf("%w: %w", specialist.ErrSynthesisFailed, classify(ctx, err))
	}

	instructions := strings.TrimSpace(resp.Text)
	if instructions == "" {
		return specialist.Entry{}, fmt.Errorf("%w: empty instructions", specialist.ErrSynthesisFailed)
	}

	return specialist.Entry{
		Role:         role,
		Name:         "Expert_" + string(role),
		Instructions: instructions,
		Tier:         specialist.TierFast,
		Transient:    true,
	}, nil
}
