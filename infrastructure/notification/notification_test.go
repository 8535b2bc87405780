package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/event"
)

func fastSender() *Sender {
	return NewSender(SenderConfig{
		Timeout:    time.Second,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		UserAgent:  "test-agent/1.0",
	})
}

func TestSign_Verify(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"run_id":"r1"}`)
	now := time.Now()
	headers := SignedHeaders(payload, "secret", now)

	tests := []struct {
		name      string
		payload   []byte
		secret    string
		timestamp string
		want      bool
	}{
		{"valid", payload, "secret", headers[HeaderTimestamp], true},
		{"wrong secret", payload, "other", headers[HeaderTimestamp], false},
		{"tampered payload", []byte(`{"run_id":"r2"}`), "secret", headers[HeaderTimestamp], false},
		{"stale timestamp", payload, "secret", strconv.FormatInt(now.Add(-time.Hour).Unix(), 10), false},
		{"malformed timestamp", payload, "secret", "yesterday", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Verify(tt.payload, tt.secret, headers[HeaderSignature], tt.timestamp, 5*time.Minute)
			if got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSender_Send(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		body    []byte
		headers http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	endpoint := Endpoint{URL: server.URL, Secret: "s3", Headers: map[string]string{"X-Tenant": "acme"}}
	payload := []byte(`{"ok":true}`)
	if err := fastSender().Send(context.Background(), endpoint, payload); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if string(body) != string(payload) {
		t.Errorf("body = %s, want %s", body, payload)
	}
	if headers.Get("User-Agent") != "test-agent/1.0" || headers.Get("X-Tenant") != "acme" {
		t.Errorf("headers = %v", headers)
	}
	if !Verify(body, "s3", headers.Get(HeaderSignature), headers.Get(HeaderTimestamp), time.Minute) {
		t.Error("delivery signature does not verify")
	}
}

func TestSender_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		// The body must survive every retry.
		if data, _ := io.ReadAll(r.Body); string(data) != "{}" {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	if err := fastSender().Send(context.Background(), Endpoint{URL: server.URL}, []byte("{}")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestSender_DoesNotRetryRejections(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	err := fastSender().Send(context.Background(), Endpoint{URL: server.URL}, []byte("{}"))
	if !errors.Is(err, ErrEndpointRejected) {
		t.Fatalf("Send() error = %v, want ErrEndpointRejected", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestSender_InvalidEndpoint(t *testing.T) {
	t.Parallel()

	s := fastSender()
	if err := s.Send(context.Background(), Endpoint{}, nil); !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("Send() error = %v, want ErrInvalidEndpoint", err)
	}
	if state := s.BreakerState("http://nowhere"); state != "unknown" {
		t.Errorf("BreakerState() = %q, want unknown", state)
	}
}

func TestWebhookSink_Deliver(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		terminals []Delivery
		all       []Delivery
	)
	record := func(into *[]Delivery) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var d Delivery
			if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			mu.Lock()
			*into = append(*into, d)
			mu.Unlock()
		}
	}
	terminalOnly := httptest.NewServer(record(&terminals))
	defer terminalOnly.Close()
	everything := httptest.NewServer(record(&all))
	defer everything.Close()

	sink, err := NewWebhookSink(fastSender(),
		Subscription{Endpoint: Endpoint{URL: terminalOnly.URL}},
		Subscription{Endpoint: Endpoint{URL: everything.URL}, AllEvents: true},
	)
	if err != nil {
		t.Fatalf("NewWebhookSink() error = %v", err)
	}

	thought := event.Thought("Architect", "Drafting a plan...", event.StatusRunning)
	thought.RunID, thought.Sequence = "run-1", 1
	result := event.Result("done")
	result.RunID, result.Sequence = "run-1", 2

	for _, e := range []event.Event{thought, result} {
		if err := sink.Deliver(context.Background(), e); err != nil {
			t.Fatalf("Deliver() error = %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(terminals) != 1 || !terminals[0].Terminal || terminals[0].Event.Output != "done" {
		t.Errorf("terminal-only deliveries = %+v", terminals)
	}
	if len(all) != 2 || all[0].Sequence != 1 || all[0].RunID != "run-1" {
		t.Errorf("all-event deliveries = %+v", all)
	}
}

func TestWebhookSink_Errors(t *testing.T) {
	t.Parallel()

	if _, err := NewWebhookSink(nil, Subscription{}); !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("NewWebhookSink() error = %v, want ErrInvalidEndpoint", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	sink, err := NewWebhookSink(fastSender(), Subscription{Endpoint: Endpoint{URL: server.URL}})
	if err != nil {
		t.Fatalf("NewWebhookSink() error = %v", err)
	}
	if err := sink.Deliver(context.Background(), event.Failure("INTERNAL", "boom")); !errors.Is(err, ErrEndpointRejected) {
		t.Errorf("Deliver() error = %v, want ErrEndpointRejected", err)
	}
}
