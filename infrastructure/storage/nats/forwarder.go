package nats

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/felixgeelhaar/roundtable/domain/event"
)

// Forwarder is an event.Sink that republishes every event in its wire shape
// on prefix.<run id> for downstream consumers.
type Forwarder struct {
	client        Client
	subjectPrefix string
}

// NewForwarder creates a forwarding sink.
func NewForwarder(cfg Config) (*Forwarder, error) {
	if cfg.Client == nil {
		return nil, errors.New("nats client is required")
	}
	return &Forwarder{client: cfg.Client, subjectPrefix: cfg.prefix()}, nil
}

// Name implements event.Sink.
func (f *Forwarder) Name() string {
	return "nats"
}

// Deliver implements event.Sink.
func (f *Forwarder) Deliver(ctx context.Context, e event.Event) error {
	if e.RunID == "" {
		return event.ErrInvalidEvent
	}
	data, err := json.Marshal(e.ToWire())
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, subject(f.subjectPrefix, e.RunID), data)
}

var _ event.Sink = (*Forwarder)(nil)
