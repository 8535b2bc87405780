// Package sqlite provides an embedded SQLite-backed relationship store.
package sqlite

import (
	"database/sql"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Config configures SQLite storage.
type Config struct {
	// DSN is a file path or file: URI, for example "file:roundtable.db?mode=rwc".
	DSN string

	// MaxOpenConns caps open connections. In-memory databases always use one.
	MaxOpenConns int

	// JournalMode is the SQLite journal mode (default: WAL).
	JournalMode string

	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration

	// AutoMigrate creates the tables when they don't exist.
	AutoMigrate bool
}

// Option configures SQLite storage.
type Option func(*Config)

// WithDSN sets the data source name.
func WithDSN(dsn string) Option {
	return func(c *Config) {
		c.DSN = dsn
	}
}

// WithBusyTimeout sets the lock wait.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.BusyTimeout = d
	}
}

// DefaultConfig returns the store defaults.
func DefaultConfig() Config {
	return Config{
		DSN:          "file:roundtable.db?mode=rwc",
		MaxOpenConns: 4,
		JournalMode:  "WAL",
		BusyTimeout:  5 * time.Second,
		AutoMigrate:  true,
	}
}

// Errors
var (
	ErrConnectionFailed = errors.New("sqlite: connection failed")
	ErrMigrationFailed  = errors.New("sqlite: migration failed")
)

// connString adds the driver's per-connection pragma parameters to the DSN
// unless the DSN already sets them. A PRAGMA executed on the pool would
// reach only one connection.
func (c Config) connString() string {
	base, query, _ := strings.Cut(c.DSN, "?")
	params, err := url.ParseQuery(query)
	if err != nil {
		return c.DSN
	}

	setDefault := func(key, value string) {
		if params.Get(key) == "" {
			params.Set(key, value)
		}
	}
	setDefault("_foreign_keys", "on")
	if c.JournalMode != "" && !c.inMemory() {
		setDefault("_journal_mode", c.JournalMode)
	}
	if c.BusyTimeout > 0 {
		setDefault("_busy_timeout", strconv.FormatInt(c.BusyTimeout.Milliseconds(), 10))
	}
	return base + "?" + params.Encode()
}

func (c Config) inMemory() bool {
	return strings.Contains(c.DSN, ":memory:") || strings.Contains(c.DSN, "mode=memory")
}

// openDB opens a SQLite database with the given configuration.
func openDB(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.connString())
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	conns := cfg.MaxOpenConns
	if cfg.inMemory() {
		// Every connection to :memory: opens a separate database.
		conns = 1
	}
	if conns > 0 {
		db.SetMaxOpenConns(conns)
		db.SetMaxIdleConns(conns)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	return db, nil
}
