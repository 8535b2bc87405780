package application

import "fmt"

// BlockedPolicy decides what happens when the plan/critique loop spends
// its iteration budget without an approved plan.
type BlockedPolicy string

const (
	// BlockedPolicyFail terminates the invocation with
	// PLAN_REJECTED_BUDGET_EXHAUSTED. Execution never runs.
	BlockedPolicyFail BlockedPolicy = "fail"

	// BlockedPolicyExecute hands the last unapproved plan to Execution.
	BlockedPolicyExecute BlockedPolicy = "execute"
)

// IsValid returns true for a known policy.
func (p BlockedPolicy) IsValid() bool {
	return p == BlockedPolicyFail || p == BlockedPolicyExecute
}

// ParseBlockedPolicy parses a configured policy. Empty selects fail.
func ParseBlockedPolicy(s string) (BlockedPolicy, error) {
	if s == "" {
		return BlockedPolicyFail, nil
	}
	p := BlockedPolicy(s)
	if !p.IsValid() {
		return "", fmt.Errorf("unknown blocked policy %q", s)
	}
	return p, nil
}
