// Package eventbus provides the per-invocation broadcast bus for stage events.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
	"github.com/felixgeelhaar/roundtable/infrastructure/security/secrets"
)

// DefaultBufferSize is the per-subscriber buffer.
const DefaultBufferSize = 256

const (
	defaultSinkQueue   = 1024
	defaultSinkTimeout = 5 * time.Second
)

// Bus broadcasts the events of one invocation to its subscribers.
// Publish never blocks. When a subscriber's buffer is full the event is
// dropped for that subscriber only; the terminal event always has a slot.
type Bus struct {
	runID    string
	bufSize  int
	redactor *secrets.Redactor
	onDrop   func()

	mu     sync.Mutex
	seq    uint64
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool

	dropped atomic.Uint64

	sinks       []event.Sink
	sinkTimeout time.Duration
	sinkQueue   chan event.Event
	sinkDone    chan struct{}
}

// Option configures the bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber buffer size.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.bufSize = size
		}
	}
}

// WithRedactor masks secrets in every published event.
func WithRedactor(r *secrets.Redactor) Option {
	return func(b *Bus) {
		b.redactor = r
	}
}

// WithSinks attaches sinks that receive every event asynchronously.
func WithSinks(sinks ...event.Sink) Option {
	return func(b *Bus) {
		b.sinks = append(b.sinks, sinks...)
	}
}

// WithSinkTimeout bounds one sink delivery.
func WithSinkTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.sinkTimeout = d
		}
	}
}

// WithDropHook is called once per dropped event and subscriber.
func WithDropHook(fn func()) Option {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

// New creates a bus for the given run.
func New(runID string, opts ...Option) *Bus {
	b := &Bus{
		runID:       runID,
		bufSize:     DefaultBufferSize,
		subs:        make(map[uint64]*Subscription),
		sinkTimeout: defaultSinkTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.sinks) > 0 {
		b.sinkQueue = make(chan event.Event, defaultSinkQueue)
		b.sinkDone = make(chan struct{})
		go b.dispatchSinks()
	}
	return b
}

// RunID returns the run the bus belongs to.
func (b *Bus) RunID() string {
	return b.runID
}

// Subscribe registers a subscriber. Delivery starts with the next event.
// Subscribing to a closed bus returns a subscription whose channel is closed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	// One extra slot is reserved for the terminal event.
	sub := &Subscription{bus: b, ch: make(chan event.Event, b.bufSize+1)}
	if b.closed {
		close(sub.ch)
		sub.done = true
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Publish implements event.Publisher.
func (b *Bus) Publish(e event.Event) {
	b.Emit(e)
}

// Emit stamps, redacts and broadcasts e and returns the delivered event.
// A terminal event closes the bus after delivery. Emitting on a closed bus
// is a no-op that returns the zero Event.
func (b *Bus) Emit(e event.Event) event.Event {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return event.Event{}
	}

	b.seq++
	e.RunID = b.runID
	e.Sequence = b.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e = b.redact(e)

	terminal := e.IsTerminal()
	for _, sub := range b.subs {
		if terminal {
			sub.ch <- e
			continue
		}
		if len(sub.ch) >= b.bufSize {
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
			continue
		}
		sub.ch <- e
	}

	if b.sinkQueue != nil {
		select {
		case b.sinkQueue <- e:
		default:
			logging.Warn().
				Add(logging.Component("eventbus")).
				Add(logging.RunID(b.runID)).
				Msg("sink queue full, event not forwarded")
		}
	}

	if terminal {
		b.closeLocked()
	}
	b.mu.Unlock()

	if terminal {
		b.waitSinks()
	}
	return e
}

func (b *Bus) redact(e event.Event) event.Event {
	if b.redactor.Empty() {
		return e
	}
	e.Content = b.redactor.Redact(e.Content)
	e.Output = b.redactor.Redact(e.Output)
	e.Input = b.redactor.RedactValue(e.Input)
	return e
}

// Close closes every subscriber channel without a terminal event.
// It is idempotent and waits for pending sink deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closeLocked()
	b.mu.Unlock()
	b.waitSinks()
}

func (b *Bus) closeLocked() {
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		sub.done = true
		delete(b.subs, id)
	}
	if b.sinkQueue != nil {
		close(b.sinkQueue)
	}
}

func (b *Bus) waitSinks() {
	if b.sinkDone != nil {
		<-b.sinkDone
	}
}

// Closed reports whether the bus has been closed.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Dropped returns the number of events dropped across all subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bus) dispatchSinks() {
	defer close(b.sinkDone)
	for e := range b.sinkQueue {
		for _, sink := range b.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), b.sinkTimeout)
			if err := sink.Deliver(ctx, e); err != nil {
				logging.Warn().
					Add(logging.Component("eventbus")).
					Add(logging.RunID(b.runID)).
					Add(logging.Str("sink", sink.Name())).
					Add(logging.ErrorField(err)).
					Msg("sink delivery failed")
			}
			cancel()
		}
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.done {
		return
	}
	sub.done = true
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	bus  *Bus
	id   uint64
	ch   chan event.Event
	done bool // guarded by bus.mu
}

// Events returns the delivery channel. It is closed after the terminal
// event or when the subscription is cancelled.
func (s *Subscription) Events() <-chan event.Event {
	return s.ch
}

// Cancel removes the subscriber. Later publishes skip it.
func (s *Subscription) Cancel() {
	s.bus.unsubscribe(s)
}
