// Package audit records security-relevant actions: sandbox executions and
// secret vault access. Records never carry secret values or script output.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"sync"
	"time"
)

// Event represents a security audit record.
type Event struct {
	Timestamp  time.Time     `json:"timestamp"`
	EventType  EventType     `json:"event_type"`
	RunID      string        `json:"run_id,omitempty"`
	UserID     string        `json:"user_id,omitempty"`
	Provider   string        `json:"provider,omitempty"`
	Key        string        `json:"key,omitempty"`
	ScriptHash string        `json:"script_hash,omitempty"`
	ExitCode   int           `json:"exit_code,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
}

// EventType categorizes audit events.
type EventType string

const (
	EventSandboxExecution EventType = "sandbox_execution"
	EventSecretRead       EventType = "secret_read"
	EventSecretWrite      EventType = "secret_write"
	EventSecretDelete     EventType = "secret_delete"
	EventSecretList       EventType = "secret_list"
)

// Logger stores audit events. Query returns nil when the logger cannot
// answer queries.
type Logger interface {
	Log(ctx context.Context, event Event) error
	Query(ctx context.Context, filter Filter) ([]Event, error)
	Close() error
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	StartTime  time.Time
	EndTime    time.Time
	EventTypes []EventType
	RunID      string
	UserID     string
	Success    *bool
	Limit      int
}

func (f Filter) matches(e Event) bool {
	switch {
	case !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime),
		!f.EndTime.IsZero() && e.Timestamp.After(f.EndTime),
		len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType),
		f.RunID != "" && e.RunID != f.RunID,
		f.UserID != "" && e.UserID != f.UserID,
		f.Success != nil && e.Success != *f.Success:
		return false
	}
	return true
}

func stamp(e *Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
}

const defaultMaxEvents = 10000

// MemoryLogger retains the most recent events in a ring.
type MemoryLogger struct {
	mu    sync.RWMutex
	ring  []Event
	next  int
	full  bool
	limit int
}

// MemoryLoggerOption configures a MemoryLogger.
type MemoryLoggerOption func(*MemoryLogger)

// WithMaxEvents bounds the ring. Older events are overwritten.
func WithMaxEvents(n int) MemoryLoggerOption {
	return func(l *MemoryLogger) {
		if n > 0 {
			l.limit = n
		}
	}
}

func NewMemoryLogger(opts ...MemoryLoggerOption) *MemoryLogger {
	l := &MemoryLogger{limit: defaultMaxEvents}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLogger) Log(_ context.Context, event Event) error {
	stamp(&event)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ring) < l.limit {
		l.ring = append(l.ring, event)
	} else {
		l.ring[l.next] = event
		l.full = true
	}
	l.next = (l.next + 1) % l.limit
	return nil
}

// Query returns matching events oldest first.
func (l *MemoryLogger) Query(_ context.Context, filter Filter) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ordered := l.ring
	if l.full {
		ordered = append(slices.Clone(l.ring[l.next:]), l.ring[:l.next]...)
	}

	out := []Event{}
	for _, e := range ordered {
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (*MemoryLogger) Close() error { return nil }

// JSONLogger appends events to w as JSON lines. It cannot be queried.
type JSONLogger struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{w: w, enc: json.NewEncoder(w)}
}

func (l *JSONLogger) Log(_ context.Context, event Event) error {
	stamp(&event)

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(event)
}

// Query is not supported by JSONLogger; it always returns no events. Pair it
// with a MemoryLogger in a MultiLogger to keep events queryable.
func (*JSONLogger) Query(context.Context, Filter) ([]Event, error) { return nil, nil }

// Close closes w when it is an io.Closer.
func (l *JSONLogger) Close() error {
	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MultiLogger fans events out to several loggers.
type MultiLogger []Logger

func NewMultiLogger(loggers ...Logger) MultiLogger { return loggers }

// Log writes to every logger and joins their errors.
func (m MultiLogger) Log(ctx context.Context, event Event) error {
	stamp(&event)

	var errs []error
	for _, l := range m {
		errs = append(errs, l.Log(ctx, event))
	}
	return errors.Join(errs...)
}

// Query answers from the first logger that supports queries.
func (m MultiLogger) Query(ctx context.Context, filter Filter) ([]Event, error) {
	for _, l := range m {
		events, err := l.Query(ctx, filter)
		if err != nil || events != nil {
			return events, err
		}
	}
	return nil, nil
}

func (m MultiLogger) Close() error {
	var errs []error
	for _, l := range m {
		errs = append(errs, l.Close())
	}
	return errors.Join(errs...)
}
