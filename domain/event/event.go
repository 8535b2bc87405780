// Package event provides the stage event model streamed to observers.
package event

import (
	"encoding/json"
	"time"
)

// Kind discriminates stage events.
type Kind string

// Event kinds.
const (
	KindThought Kind = "thought"
	KindToolUse Kind = "tool_use"
	KindError   Kind = "error"
	KindResult  Kind = "result"
)

// Status is the optional status attached to an event.
type Status string

// Event statuses.
const (
	StatusRunning  Status = "running"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Event is an immutable record of one stage transition.
type Event struct {
	// RunID identifies the invocation that emitted the event.
	RunID string `json:"run_id,omitempty"`

	// Sequence orders events within an invocation, starting at 1.
	Sequence uint64 `json:"sequence,omitempty"`

	// Kind classifies the event.
	Kind Kind `json:"type"`

	// Agent is the originating stage or specialist name.
	Agent string `json:"agent,omitempty"`

	// Status is the optional stage status.
	Status Status `json:"status,omitempty"`

	// Content is free text.
	Content string `json:"content"`

	// Input is an optional structured payload.
	Input any `json:"input,omitempty"`

	// Code is the stable error code of terminal error events.
	Code string `json:"code,omitempty"`

	// Output is the final output of result events.
	Output string `json:"output,omitempty"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}

// Thought creates a thought event.
func Thought(agent, content string, status Status) Event {
	return Event{Kind: KindThought, Agent: agent, Content: content, Status: status, Timestamp: time.Now()}
}

// ToolUse creates a tool use event.
func ToolUse(agent, tool string, input any) Event {
	return Event{Kind: KindToolUse, Agent: agent, Content: tool, Status: StatusRunning, Input: input, Timestamp: time.Now()}
}

// Rejection creates a non-terminal error event for a stage-local failure.
func Rejection(agent, content string, input any) Event {
	return Event{Kind: KindError, Agent: agent, Content: content, Status: StatusRejected, Input: input, Timestamp: time.Now()}
}

// Failure creates the terminal error event of an invocation.
func Failure(code, message string) Event {
	return Event{Kind: KindError, Content: message, Status: StatusFailed, Code: code, Timestamp: time.Now()}
}

// Result creates the terminal result event of an invocation.
func Result(output string) Event {
	return Event{Kind: KindResult, Content: "success", Status: StatusApproved, Output: output, Timestamp: time.Now()}
}

// IsTerminal returns true if the event ends the invocation's sequence.
// Stage-local rejections are error events without a code and do not.
func (e Event) IsTerminal() bool {
	return e.Kind == KindResult || (e.Kind == KindError && e.Code != "")
}

// WithInput returns a copy of the event with the given input payload.
func (e Event) WithInput(input any) Event {
	e.Input = input
	return e
}

// Wire is the line-oriented transport shape of an event.
type Wire struct {
	Type    Kind   `json:"type"`
	Agent   string `json:"agent,omitempty"`
	Status  Status `json:"status,omitempty"`
	Content string `json:"content"`
	Input   any    `json:"input,omitempty"`
	Output  string `json:"output,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ToWire converts the event to its transport shape.
func (e Event) ToWire() Wire {
	w := Wire{
		Type:    e.Kind,
		Agent:   e.Agent,
		Status:  e.Status,
		Content: e.Content,
		Input:   e.Input,
	}
	switch {
	case e.Kind == KindResult:
		w.Output = e.Output
	case e.IsTerminal():
		w.Code = e.Code
		w.Message = e.Content
	}
	return w
}

// MarshalLine encodes the event as one newline-terminated JSON object.
func (e Event) MarshalLine() ([]byte, error) {
	data, err := json.Marshal(e.ToWire())
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
