package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/roundtable/domain/event"
)

// DefaultSubjectPrefix is the subject namespace used when none is configured.
const DefaultSubjectPrefix = "roundtable.events"

// Config holds configuration for the NATS journal and forwarder.
type Config struct {
	// Client is the JetStream client to use.
	Client Client

	// SubjectPrefix is the prefix for all event subjects.
	SubjectPrefix string
}

func (c Config) prefix() string {
	if c.SubjectPrefix == "" {
		return DefaultSubjectPrefix
	}
	return c.SubjectPrefix
}

// Journal implements event.Journal on a JetStream stream, one subject per run.
type Journal struct {
	client        Client
	subjectPrefix string
}

// NewJournal creates a new NATS journal.
func NewJournal(cfg Config) (*Journal, error) {
	if cfg.Client == nil {
		return nil, errors.New("nats client is required")
	}
	return &Journal{client: cfg.Client, subjectPrefix: cfg.prefix()}, nil
}

// Append publishes events for a run in the order given.
func (j *Journal) Append(ctx context.Context, runID string, events ...event.Event) error {
	if runID == "" {
		return event.ErrInvalidEvent
	}
	for _, e := range events {
		e.RunID = runID
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := j.client.Publish(ctx, subject(j.subjectPrefix, runID), data); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}
	return nil
}

// Load retrieves all events for a run in publish order.
func (j *Journal) Load(ctx context.Context, runID string) ([]event.Event, error) {
	messages, err := j.client.GetMessages(ctx, subject(j.subjectPrefix, runID))
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, event.ErrRunNotFound
	}

	events := make([]event.Event, 0, len(messages))
	for _, data := range messages {
		var e event.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Ping reports whether the client is connected.
func (j *Journal) Ping(ctx context.Context) error {
	return j.client.Ping(ctx)
}

// Close closes the underlying client.
func (j *Journal) Close() error {
	return j.client.Close()
}

// subject constructs the NATS subject for a run.
func subject(prefix, runID string) string {
	return prefix + "." + runID
}

var _ event.Journal = (*Journal)(nil)
