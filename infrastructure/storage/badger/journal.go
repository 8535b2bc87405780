package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
)

// Journal is a BadgerDB-backed implementation of event.Journal.
type Journal struct {
	db        *badger.DB
	keyPrefix string
	ttl       time.Duration
	gcStop    chan struct{}
	gcWg      sync.WaitGroup
	closeOnce sync.Once
}

// NewJournal opens a BadgerDB journal with the given configuration.
func NewJournal(cfg Config, opts ...Option) (*Journal, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		db:        db,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		gcStop:    make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		j.startGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return j, nil
}

// startGC periodically reclaims value log space until Close.
func (j *Journal) startGC(interval time.Duration, discardRatio float64) {
	j.gcWg.Add(1)
	go func() {
		defer j.gcWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-j.gcStop:
				return
			case <-ticker.C:
				for {
					if err := j.db.RunValueLogGC(discardRatio); err != nil {
						if !errors.Is(err, badger.ErrNoRewrite) {
							logging.Warn().
								Add(logging.Component("badger")).
								Add(logging.ErrorField(err)).
								Msg("value log gc failed")
						}
						break
					}
				}
			}
		}
	}()
}

// Key format: prefix:events:runID:position (8 bytes, big-endian)
func (j *Journal) eventKey(runID string, pos uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, pos)
	return append(j.eventPrefix(runID), b...)
}

func (j *Journal) eventPrefix(runID string) []byte {
	return []byte(j.keyPrefix + "events:" + runID + ":")
}

// Key format: prefix:pos:runID, the last written position of a run
func (j *Journal) posKey(runID string) []byte {
	return []byte(j.keyPrefix + "pos:" + runID)
}

// Append persists events for a run atomically in the order given.
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

	return j.db.Update(func(txn *badger.Txn) error {
		var pos uint64
		item, err := txn.Get(j.posKey(runID))
		switch {
		case err == nil:
			err = item.Value(func(val []byte) error {
				if len(val) == 8 {
					pos = binary.BigEndian.Uint64(val)
				}
				return nil
			})
			if err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		for _, e := range events {
			if e.Kind == "" {
				return event.ErrInvalidEvent
			}
			e.RunID = runID
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			pos++
			if err := txn.SetEntry(j.entry(j.eventKey(runID, pos), data)); err != nil {
				return err
			}
		}

		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, pos)
		return txn.SetEntry(j.entry(j.posKey(runID), b))
	})
}

func (j *Journal) entry(key, value []byte) *badger.Entry {
	e := badger.NewEntry(key, value)
	if j.ttl > 0 {
		e = e.WithTTL(j.ttl)
	}
	return e
}

// Load retrieves all events for a run in append order.
func (j *Journal) Load(ctx context.Context, runID string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []event.Event
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = j.eventPrefix(runID)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e event.Event
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				continue // skip malformed entries
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, event.ErrRunNotFound
	}
	return events, nil
}

// Ping reports whether the database is open.
func (j *Journal) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if j.db.IsClosed() {
		return ErrConnectionFailed
	}
	return nil
}

// Close stops garbage collection and closes the database.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		close(j.gcStop)
		j.gcWg.Wait()
		err = j.db.Close()
	})
	return err
}

var _ event.Journal = (*Journal)(nil)
