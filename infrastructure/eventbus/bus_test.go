package eventbus_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/infrastructure/eventbus"
	"github.com/felixgeelhaar/roundtable/infrastructure/security/secrets"
)

func drain(t *testing.T, sub *eventbus.Subscription) []event.Event {
	t.Helper()
	var got []event.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return got
			}
			got = append(got, e)
		case <-timeout:
			t.Fatal("subscription channel was not closed")
		}
	}
}

func TestBus_BroadcastAndClose(t *testing.T) {
	t.Parallel()

	bus := eventbus.New("run-1")
	a, b := bus.Subscribe(), bus.Subscribe()

	bus.Publish(event.Thought("Librarian", "Retrieving user context", event.StatusRunning))
	bus.Publish(event.Thought("Architect", "Plan proposed.", event.StatusApproved))
	bus.Publish(event.Result("done"))
	bus.Publish(event.Thought("Coder", "after terminal", ""))

	for name, sub := range map[string]*eventbus.Subscription{"a": a, "b": b} {
		got := drain(t, sub)
		if len(got) != 3 {
			t.Fatalf("%s received %d events, want 3", name, len(got))
		}
		for i, e := range got {
			if e.Sequence != uint64(i+1) {
				t.Errorf("%s event %d Sequence = %d", name, i, e.Sequence)
			}
			if e.RunID != "run-1" {
				t.Errorf("%s event %d RunID = %s", name, i, e.RunID)
			}
		}
		if !got[2].IsTerminal() {
			t.Errorf("%s last event should be terminal", name)
		}
	}
	if !bus.Closed() {
		t.Error("bus should be closed after the terminal event")
	}
}

func TestBus_NoReplay(t *testing.T) {
	t.Parallel()

	bus := eventbus.New("run-1")
	bus.Publish(event.Thought("Librarian", "early", ""))
	sub := bus.Subscribe()
	bus.Publish(event.Failure("CANCELLED", "cancelled"))

	got := drain(t, sub)
	if len(got) != 1 || got[0].Code != "CANCELLED" {
		t.Errorf("got %v, want only the terminal event", got)
	}
}

func TestBus_DropsWhenFullButDeliversTerminal(t *testing.T) {
	t.Parallel()

	var hooked atomic.Int64
	bus := eventbus.New("run-1", eventbus.WithBufferSize(2), eventbus.WithDropHook(func() { hooked.Add(1) }))
	sub := bus.Subscribe()

	for i := 0; i < 5; i++ {
		bus.Publish(event.Thought("Coder", "progress", event.StatusRunning))
	}
	bus.Publish(event.Failure("EXECUTION_TIMEOUT", "timed out"))

	got := drain(t, sub)
	if len(got) != 3 {
		t.Fatalf("received %d events, want 2 buffered + terminal", len(got))
	}
	if got[2].Code != "EXECUTION_TIMEOUT" {
		t.Errorf("last event = %+v, want terminal failure", got[2])
	}
	if bus.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", bus.Dropped())
	}
	if hooked.Load() != 3 {
		t.Errorf("drop hook called %d times, want 3", hooked.Load())
	}
}

func TestBus_CancelledSubscriber(t *testing.T) {
	t.Parallel()

	bus := eventbus.New("run-1", eventbus.WithBufferSize(1))
	gone := bus.Subscribe()
	stay := bus.Subscribe()

	gone.Cancel()
	gone.Cancel()

	bus.Publish(event.Thought("Critic", "auditing", event.StatusRunning))
	bus.Publish(event.Result("ok"))

	if got := drain(t, gone); len(got) != 0 {
		t.Errorf("cancelled subscriber received %d events", len(got))
	}
	if got := drain(t, stay); len(got) != 2 {
		t.Errorf("remaining subscriber received %d events, want 2", len(got))
	}
}

func TestBus_SubscribeAfterClose(t *testing.T) {
	t.Parallel()

	bus := eventbus.New("run-1")
	bus.Close()
	bus.Close()

	sub := bus.Subscribe()
	if got := drain(t, sub); len(got) != 0 {
		t.Errorf("late subscriber received %v", got)
	}
	if e := bus.Emit(event.Result("x")); e.Sequence != 0 {
		t.Error("Emit() on a closed bus should be a no-op")
	}
}

func TestBus_Redaction(t *testing.T) {
	t.Parallel()

	redactor := secrets.NewRedactor()
	bus := eventbus.New("run-1", eventbus.WithRedactor(redactor))
	sub := bus.Subscribe()

	redactor.Add("sk-very-secret")
	bus.Publish(event.ToolUse("Coder", "python_code_interpreter", map[string]string{"code": "key='sk-very-secret'"}))
	bus.Publish(event.Result("printed sk-very-secret"))

	for _, e := range drain(t, sub) {
		line, err := e.MarshalLine()
		if err != nil {
			t.Fatalf("MarshalLine() error = %v", err)
		}
		if strings.Contains(string(line), "sk-very-secret") {
			t.Errorf("secret leaked: %s", line)
		}
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func TestBus_Sinks(t *testing.T) {
	t.Parallel()

	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("broker down")}
	bus := eventbus.New("run-1", eventbus.WithSinks(failing, ok))

	bus.Publish(event.Thought("Librarian", "hello", ""))
	bus.Publish(event.Result("done"))

	// The terminal emit waits for sink delivery.
	ok.mu.Lock()
	defer ok.mu.Unlock()
	if len(ok.events) != 2 {
		t.Errorf("sink received %d events, want 2", len(ok.events))
	}
}
