package event

import "errors"

// Domain errors for event handling.
var (
	// ErrInvalidEvent is returned when an event is malformed.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrRunNotFound is returned when no events exist for a run.
	ErrRunNotFound = errors.New("run not found in journal")

	// ErrBusClosed is returned when subscribing to a closed bus.
	ErrBusClosed = errors.New("event bus closed")

	// ErrConnectionFailed is returned when a journal backend is unreachable.
	ErrConnectionFailed = errors.New("event journal connection failed")
)
