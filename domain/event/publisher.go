package event

import "context"

// Publisher accepts events emitted by the stages of one invocation.
// Publish must never block the caller.
type Publisher interface {
	Publish(e Event)
}

// Sink receives a copy of every published event outside the invocation,
// for example to journal or forward it. Sink failures are never fatal.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Deliver hands one event to the sink.
	Deliver(ctx context.Context, e Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(Event)

// Publish calls f(e).
func (f PublisherFunc) Publish(e Event) {
	f(e)
}
