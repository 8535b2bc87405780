// Package logging wraps bolt with a process-wide logger and typed fields.
//
//	logging.Info().Add(logging.RunID(id)).Add(logging.Stage("planning")).Msg("stage started")
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
)

var (
	mu      sync.RWMutex
	current *bolt.Logger
)

// Config selects the level, encoding and destination of the logger.
type Config struct {
	Level  string // trace, debug, info, warn or error
	Format string // json or console
	Output io.Writer
}

// FromEngineConfig maps the engine's logging section onto a Config. Logs go
// to stderr so stdout stays free for streamed run events.
func FromEngineConfig(level, format string) Config {
	cfg := Config{Level: "info", Format: "json", Output: os.Stderr}
	if level != "" {
		cfg.Level = level
	}
	if format != "" {
		cfg.Format = format
	}
	return cfg
}

var levels = map[string]bolt.Level{
	"trace": bolt.TRACE,
	"debug": bolt.DEBUG,
	"info":  bolt.INFO,
	"warn":  bolt.WARN,
	"error": bolt.ERROR,
}

func parseLevel(s string) bolt.Level {
	if l, ok := levels[strings.ToLower(s)]; ok {
		return l
	}
	return bolt.INFO
}

func newLogger(cfg Config) *bolt.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var h bolt.Handler = bolt.NewConsoleHandler(out)
	if cfg.Format == "json" {
		h = bolt.NewJSONHandler(out)
	}
	return bolt.New(h).SetLevel(parseLevel(cfg.Level))
}

// Init installs a logger built from cfg, replacing any previous one.
func Init(cfg Config) {
	mu.Lock()
	current = newLogger(cfg)
	mu.Unlock()
}

// Get returns the process logger, creating a console logger at info level
// on first use.
func Get() *bolt.Logger {
	mu.RLock()
	l := current
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = newLogger(Config{Level: "info", Format: "console"})
	}
	return current
}

// Replace swaps the process logger and returns a function restoring the
// previous one. Tests use it to capture output.
func Replace(l *bolt.Logger) (restore func()) {
	mu.Lock()
	prev := current
	current = l
	mu.Unlock()
	return func() {
		mu.Lock()
		current = prev
		mu.Unlock()
	}
}

// LogEvent chains Fields onto a pending bolt event.
type LogEvent struct {
	event *bolt.Event
}

// NewEvent wraps e.
func NewEvent(e *bolt.Event) *LogEvent {
	return &LogEvent{event: e}
}

// Add applies f and returns l.
func (l *LogEvent) Add(f Field) *LogEvent {
	l.event = f(l.event)
	return l
}

// Msg writes the event.
func (l *LogEvent) Msg(msg string) {
	l.event.Msg(msg)
}

func Debug() *LogEvent { return NewEvent(Get().Debug()) }
func Info() *LogEvent  { return NewEvent(Get().Info()) }
func Warn() *LogEvent  { return NewEvent(Get().Warn()) }
func Error() *LogEvent { return NewEvent(Get().Error()) }
