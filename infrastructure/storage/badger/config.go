// Package badger provides a BadgerDB-backed event journal.
package badger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
)

// Config configures the journal database.
type Config struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the journal in memory only.
	InMemory bool

	// SyncWrites fsyncs every append.
	SyncWrites bool

	// GCInterval is the pause between value log GC passes (0 disables GC).
	GCInterval time.Duration

	// GCDiscardRatio is the value log rewrite threshold.
	GCDiscardRatio float64

	// KeyPrefix namespaces journal keys.
	KeyPrefix string

	// TTL expires journaled events after the given duration (0 keeps them).
	TTL time.Duration
}

// Option configures the journal database.
type Option func(*Config)

// WithDir sets the data directory.
func WithDir(dir string) Option {
	return func(c *Config) {
		c.Dir = dir
		c.InMemory = false
	}
}

// WithInMemory keeps the journal in memory.
func WithInMemory() Option {
	return func(c *Config) {
		c.InMemory = true
	}
}

// WithSyncWrites fsyncs every append.
func WithSyncWrites() Option {
	return func(c *Config) {
		c.SyncWrites = true
	}
}

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithTTL expires journaled events after d.
func WithTTL(d time.Duration) Option {
	return func(c *Config) {
		c.TTL = d
	}
}

// DefaultConfig returns the journal defaults.
func DefaultConfig() Config {
	return Config{
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Errors
var (
	ErrConnectionFailed = errors.New("badger: connection failed")
)

// openDB opens the database. Badger's own log output is routed through the
// engine logger, with info and debug chatter demoted to debug.
func openDB(cfg Config) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(dbLogger{})
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	} else if cfg.Dir == "" {
		return nil, errors.Join(ErrConnectionFailed, errors.New("journal directory is required"))
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	return db, nil
}

// dbLogger adapts the engine logger to badger.Logger.
type dbLogger struct{}

func (dbLogger) Errorf(format string, args ...any) {
	logging.Error().Add(logging.Component("badger")).Msg(line(format, args))
}

func (dbLogger) Warningf(format string, args ...any) {
	logging.Warn().Add(logging.Component("badger")).Msg(line(format, args))
}

func (dbLogger) Infof(format string, args ...any) {
	logging.Debug().Add(logging.Component("badger")).Msg(line(format, args))
}

func (dbLogger) Debugf(format string, args ...any) {
	logging.Debug().Add(logging.Component("badger")).Msg(line(format, args))
}

func line(format string, args []any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
