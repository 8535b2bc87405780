package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/event"
)

// DefaultTool is the capability assumed when a plan declares none.
const DefaultTool = "python_code_interpreter"

// Plan is an ordered list of atomic steps plus the capabilities it needs.
// A plan is superseded, never mutated, by the next iteration's plan.
type Plan struct {
	Steps         []string `json:"plan_steps"`
	RequiredTools []string `json:"required_tools,omitempty"`
}

// NewPlan creates a plan, dropping blank steps and defaulting the tool set.
func NewPlan(steps []string, tools []string) (Plan, error) {
	kept := make([]string, 0, len(steps))
	for _, s := range steps {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	if len(kept) == 0 {
		return Plan{}, ErrEmptyPlan
	}
	if len(tools) == 0 {
		tools = []string{DefaultTool}
	}
	return Plan{Steps: kept, RequiredTools: tools}, nil
}

// Verdict is the critique outcome for one plan.
type Verdict struct {
	Approved bool     `json:"is_approved"`
	Score    float64  `json:"score"`
	Feedback string   `json:"feedback,omitempty"`
	Risks    []string `json:"risks,omitempty"`
}

// Artifacts holds what execution produced.
type Artifacts struct {
	Files     []string `json:"files,omitempty"`
	Stdout    string   `json:"stdout,omitempty"`
	Stderr    string   `json:"stderr,omitempty"`
	LastError string   `json:"last_error,omitempty"`
}

// State is the shared mutable state of one invocation.
// It is owned by a single driver and never shared across invocations.
type State struct {
	RunID          string
	Objective      string
	UserID         string
	ContextSummary string
	Extensions     []string
	Plan           *Plan
	Verdict        *Verdict
	Iteration      int
	Status         Status
	Artifacts      Artifacts
	History        []event.Event
	StartTime      time.Time
	EndTime        time.Time
}

// NewState creates the state for a new invocation.
func NewState(runID, objective, userID string) (*State, error) {
	if strings.TrimSpace(objective) == "" || strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}
	return &State{
		RunID:     runID,
		Objective: objective,
		UserID:    userID,
		Status:    StatusPlanning,
		History:   make([]event.Event, 0, 16),
		StartTime: time.Now(),
	}, nil
}

// Advance moves the status forward. Backwards transitions are rejected.
func (s *State) Advance(to Status) error {
	if !s.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	if to.IsTerminal() {
		s.EndTime = time.Now()
	}
	return nil
}

// Record appends an emitted event to the history.
func (s *State) Record(e event.Event) {
	s.History = append(s.History, e)
}
