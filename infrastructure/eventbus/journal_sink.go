package eventbus

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/roundtable/domain/event"
)

// JournalSink buffers events and appends them to a journal in batches.
// The buffer is flushed when full and whenever a terminal event arrives.
type JournalSink struct {
	journal event.Journal
	bufSize int

	mu     sync.Mutex
	buffer []event.Event
}

// JournalOption configures the journal sink.
type JournalOption func(*JournalSink)

// WithBatchSize sets how many events are buffered before a flush.
func WithBatchSize(size int) JournalOption {
	return func(s *JournalSink) {
		s.bufSize = size
	}
}

// NewJournalSink creates a sink writing to journal.
func NewJournalSink(journal event.Journal, opts ...JournalOption) *JournalSink {
	s := &JournalSink{journal: journal}
	for _, opt := range opts {
		opt(s)
	}
	if s.bufSize > 0 {
		s.buffer = make([]event.Event, 0, s.bufSize)
	}
	return s
}

// Name implements event.Sink.
func (s *JournalSink) Name() string {
	return "journal"
}

// Deliver implements event.Sink.
func (s *JournalSink) Deliver(ctx context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bufSize == 0 {
		return s.journal.Append(ctx, e.RunID, e)
	}

	s.buffer = append(s.buffer, e)
	if len(s.buffer) >= s.bufSize || e.IsTerminal() {
		return s.flush(ctx)
	}
	return nil
}

// Flush writes all buffered events to the journal.
func (s *JournalSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush(ctx)
}

// flush must be called with the lock held. Buffered events of different
// runs are appended per run in arrival order.
func (s *JournalSink) flush(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}

	start := 0
	for i := 1; i <= len(s.buffer); i++ {
		if i < len(s.buffer) && s.buffer[i].RunID == s.buffer[start].RunID {
			continue
		}
		if err := s.journal.Append(ctx, s.buffer[start].RunID, s.buffer[start:i]...); err != nil {
			s.buffer = append(s.buffer[:0], s.buffer[start:]...)
			return err
		}
		start = i
	}

	s.buffer = s.buffer[:0]
	return nil
}

var _ event.Sink = (*JournalSink)(nil)
