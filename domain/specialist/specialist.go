// Package specialist defines role-bound reasoning configurations.
package specialist

import (
	"context"
	"errors"
	"strings"
)

// Role identifies a specialist.
type Role string

// Core roles.
const (
	RoleOrchestrator        Role = "orchestrator"
	RoleLibrarian           Role = "librarian"
	RoleArchitect           Role = "architect"
	RoleCoder               Role = "coder"
	RoleCritic              Role = "critic"
	RoleDataAnalyst         Role = "data_analyst"
	RoleMarketingStrategist Role = "marketing_strategist"
)

// Template roles instantiated on demand.
const (
	RoleSecurityAuditor Role = "security_auditor"
	RoleFinanceExpert   Role = "finance_expert"
)

// Normalize lowercases the role and replaces separators with underscores.
func Normalize(role string) Role {
	r := strings.ToLower(strings.TrimSpace(role))
	r = strings.NewReplacer(" ", "_", "-", "_").Replace(r)
	return Role(r)
}

// Tier selects the model class used for a specialist.
type Tier string

// Model tiers.
const (
	TierFast     Tier = "fast"
	TierStandard Tier = "standard"
	TierAdvanced Tier = "advanced"
)

// IsValid returns true for a recognized tier.
func (t Tier) IsValid() bool {
	return t == TierFast || t == TierStandard || t == TierAdvanced
}

// Entry is plain data describing how a role reasons.
type Entry struct {
	Role         Role     `json:"role" yaml:"role"`
	Name         string   `json:"name" yaml:"name"`
	Instructions string   `json:"instructions" yaml:"instructions"`
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	Tier         Tier     `json:"tier" yaml:"tier"`
	Transient    bool     `json:"transient,omitempty" yaml:"-"`
}

// Validate checks an entry before registration.
func (e Entry) Validate() error {
	if e.Role == "" {
		return ErrInvalidRole
	}
	if strings.TrimSpace(e.Instructions) == "" {
		return ErrMissingInstructions
	}
	if e.Tier != "" && !e.Tier.IsValid() {
		return ErrInvalidTier
	}
	return nil
}

// Allows reports whether the entry may use the given tool.
func (e Entry) Allows(tool string) bool {
	for _, t := range e.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// Extension is a user-enabled behavioral modifier injected into instructions.
type Extension struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	PromptInjection string `json:"prompt_injection" yaml:"prompt_injection"`
}

// Resolver resolves a role to its entry with the given extensions applied.
type Resolver interface {
	Resolve(ctx context.Context, role Role, extensions []string) (Entry, error)
}

// Domain errors for the specialist registry.
var (
	// ErrInvalidRole indicates an empty role.
	ErrInvalidRole = errors.New("invalid specialist role")

	// ErrMissingInstructions indicates an entry without instructions.
	ErrMissingInstructions = errors.New("specialist instructions are required")

	// ErrInvalidTier indicates an unknown model tier.
	ErrInvalidTier = errors.New("invalid model tier")

	// ErrSynthesisFailed indicates a transient specialist could not be generated.
	ErrSynthesisFailed = errors.New("specialist synthesis failed")
)
