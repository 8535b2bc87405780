package event

import "context"

// Journal persists the event history of invocations.
// Implementations may be embedded (badger) or remote.
type Journal interface {
	// Append persists events for a run in the order given.
	Append(ctx context.Context, runID string, events ...Event) error

	// Load retrieves all events recorded for a run in sequence order.
	Load(ctx context.Context, runID string) ([]Event, error)

	// Close releases the journal's resources.
	Close() error
}
