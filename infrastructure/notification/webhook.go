package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/event"
)

// Delivery is the JSON body posted to webhook endpoints.
type Delivery struct {
	RunID     string     `json:"run_id"`
	Sequence  uint64     `json:"sequence"`
	Terminal  bool       `json:"terminal"`
	Event     event.Wire `json:"event"`
	Timestamp time.Time  `json:"timestamp"`
}

// Subscription routes events to one endpoint.
type Subscription struct {
	Endpoint Endpoint
	// AllEvents delivers every stage event instead of only the terminal one.
	AllEvents bool
}

// WebhookSink is an event sink that posts events to webhook subscriptions.
// Events pass through the bus redactor before reaching a sink, so payloads
// never carry secret values.
type WebhookSink struct {
	subs   []Subscription
	sender *Sender
}

// NewWebhookSink creates a sink. A nil sender uses the default configuration.
func NewWebhookSink(sender *Sender, subs ...Subscription) (*WebhookSink, error) {
	for _, s := range subs {
		if s.Endpoint.URL == "" {
			return nil, ErrInvalidEndpoint
		}
	}
	if sender == nil {
		sender = NewSender(DefaultSenderConfig())
	}
	return &WebhookSink{subs: subs, sender: sender}, nil
}

// Name identifies the sink in logs.
func (w *WebhookSink) Name() string {
	return "webhook"
}

// Deliver posts the event to every interested subscription.
func (w *WebhookSink) Deliver(ctx context.Context, e event.Event) error {
	terminal := e.IsTerminal()

	var payload []byte
	var errs []error
	for _, s := range w.subs {
		if !terminal && !s.AllEvents {
			continue
		}
		if payload == nil {
			data, err := json.Marshal(Delivery{
				RunID:     e.RunID,
				Sequence:  e.Sequence,
				Terminal:  terminal,
				Event:     e.ToWire(),
				Timestamp: e.Timestamp,
			})
			if err != nil {
				return fmt.Errorf("encode delivery: %w", err)
			}
			payload = data
		}
		if err := w.sender.Send(ctx, s.Endpoint, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Endpoint.URL, err))
		}
	}
	return errors.Join(errs...)
}
