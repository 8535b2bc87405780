package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/domain/task"
)

// ErrNoJournal is returned when replay is requested without a journal.
var ErrNoJournal = errors.New("no event journal configured")

// Replay reconstructs past invocations from their journaled events.
type Replay struct {
	journal event.Journal
}

// NewReplay creates a new replay engine.
func NewReplay(journal event.Journal) *Replay {
	return &Replay{journal: journal}
}

// Replay returns a replay over the engine's journal.
func (e *Engine) Replay() (*Replay, error) {
	if e.journal == nil {
		return nil, ErrNoJournal
	}
	return NewReplay(e.journal), nil
}

// RunSummary is the reconstructed outcome of one invocation.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Status     task.Status   `json:"status"`
	Complete   bool          `json:"complete"`
	Iterations int           `json:"iterations"`
	Rejections int           `json:"rejections"`
	Approved   bool          `json:"approved"`
	Executed   bool          `json:"executed"`
	Plan       []string      `json:"plan,omitempty"`
	Output     string        `json:"output,omitempty"`
	Code       task.Code     `json:"code,omitempty"`
	Message    string        `json:"message,omitempty"`
	Events     int           `json:"events"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
}

// Events loads the raw event sequence of a run.
func (r *Replay) Events(ctx context.Context, runID string) ([]event.Event, error) {
	events, err := r.journal.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	if len(events) == 0 {
		return nil, event.ErrRunNotFound
	}
	return events, nil
}

// ReconstructRun rebuilds a run summary from its event history.
func (r *Replay) ReconstructRun(ctx context.Context, runID string) (*RunSummary, error) {
	events, err := r.Events(ctx, runID)
	if err != nil {
		return nil, err
	}
	return Summarize(runID, events), nil
}

// Summarize folds an ordered event sequence into a run summary.
func Summarize(runID string, events []event.Event) *RunSummary {
	sum := &RunSummary{RunID: runID, Status: task.StatusPlanning, Events: len(events)}
	if len(events) == 0 {
		return sum
	}
	sum.StartTime = events[0].Timestamp

	for _, e := range events {
		switch {
		case e.Agent == agentArchitect && e.Kind == event.KindThought && e.Status == event.StatusApproved:
			sum.Iterations++
			sum.Plan = steps(e.Input)
		case e.Agent == agentCritic && e.Kind == event.KindThought && e.Status == event.StatusApproved:
			sum.Approved = true
		case e.Agent == agentCritic && e.Kind == event.KindError:
			sum.Rejections++
		case e.Agent == agentOrchestrator && e.Kind == event.KindThought:
			sum.Status = task.StatusBlocked
		case e.Kind == event.KindToolUse:
			sum.Executed = true
			sum.Status = task.StatusExecuting
		case e.Kind == event.KindResult:
			sum.Output = e.Output
		case e.IsTerminal():
			sum.Code = task.Code(e.Code)
			sum.Message = e.Content
		}

		if e.IsTerminal() {
			sum.Complete = true
			sum.Status = task.StatusFinished
			if sum.Code == task.CodeBudgetExhausted {
				sum.Status = task.StatusBlocked
			}
			sum.EndTime = e.Timestamp
		}
	}

	last := events[len(events)-1].Timestamp
	sum.Duration = last.Sub(sum.StartTime)
	return sum
}

// steps reads plan steps from an event input, which is []string when the
// event is live and []any after a journal round trip.
func steps(input any) []string {
	switch v := input.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
