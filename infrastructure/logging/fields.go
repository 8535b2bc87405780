package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// Field adds structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// Str adds an arbitrary string field.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Str(key, value) }
}

// Int adds an arbitrary integer field.
func Int(key string, value int) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Int(key, value) }
}

func RunID(id string) Field       { return Str("run_id", id) }
func UserID(id string) Field      { return Str("user_id", id) }
func Role(role string) Field      { return Str("role", role) }
func Provider(name string) Field  { return Str("provider", name) }
func Component(name string) Field { return Str("component", name) }
func Operation(op string) Field   { return Str("operation", op) }
func Iteration(n int) Field       { return Int("iteration", n) }
func Attempt(n int) Field         { return Int("attempt", n) }
func Count(n int) Field           { return Int("count", n) }

// Stage is one of context, planning, critique or execution.
func Stage(stage string) Field { return Str("stage", stage) }

// Code adds a terminal error code. An empty code adds nothing.
func Code(code string) Field {
	if code == "" {
		return noop
	}
	return Str("code", code)
}

func Approved(approved bool) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Bool("approved", approved) }
}

// Duration is logged in whole milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event { return e.Int64("duration_ms", d.Milliseconds()) }
}

// ErrorField adds err. A nil error adds nothing.
func ErrorField(err error) Field {
	if err == nil {
		return noop
	}
	return func(e *bolt.Event) *bolt.Event { return e.Err(err) }
}

func noop(e *bolt.Event) *bolt.Event { return e }
