package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/felixgeelhaar/roundtable/domain/event"
)

// Journal is an in-memory implementation of event.Journal.
type Journal struct {
	events map[string][]event.Event // runID -> events
	mu     sync.RWMutex
}

// NewJournal creates a new in-memory journal.
func NewJournal() *Journal {
	return &Journal{events: make(map[string][]event.Event)}
}

// Append persists events for a run.
func (j *Journal) Append(ctx context.Context, runID string, events ...event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if runID == "" {
		return event.ErrInvalidEvent
	}
	if len(events) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.events[runID] = append(j.events[runID], events...)
	return nil
}

// Load retrieves all events for a run in sequence order.
func (j *Journal) Load(ctx context.Context, runID string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	events, ok := j.events[runID]
	if !ok {
		return nil, event.ErrRunNotFound
	}

	result := make([]event.Event, len(events))
	copy(result, events)
	sort.SliceStable(result, func(a, b int) bool {
		return result[a].Sequence < result[b].Sequence
	})
	return result, nil
}

// Runs returns the ids of every journaled run.
func (j *Journal) Runs() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	ids := make([]string, 0, len(j.events))
	for id := range j.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close is a no-op.
func (j *Journal) Close() error {
	return nil
}

var _ event.Journal = (*Journal)(nil)
