package sqlite

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestConfig_ConnString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want map[string]string
	}{
		{
			name: "defaults",
			cfg:  DefaultConfig(),
			want: map[string]string{"mode": "rwc", "_foreign_keys": "on", "_journal_mode": "WAL", "_busy_timeout": "5000"},
		},
		{
			name: "explicit parameters win",
			cfg:  Config{DSN: "file:x.db?_busy_timeout=100", BusyTimeout: time.Second, JournalMode: "DELETE"},
			want: map[string]string{"_busy_timeout": "100", "_journal_mode": "DELETE"},
		},
		{
			name: "memory skips journal mode",
			cfg:  Config{DSN: ":memory:", JournalMode: "WAL"},
			want: map[string]string{"_foreign_keys": "on", "_journal_mode": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := tt.cfg.connString()
			_, query, ok := strings.Cut(got, "?")
			if !ok {
				t.Fatalf("connString() = %q, want query parameters", got)
			}
			params, err := url.ParseQuery(query)
			if err != nil {
				t.Fatalf("ParseQuery() error = %v", err)
			}
			for key, want := range tt.want {
				if params.Get(key) != want {
					t.Errorf("%s = %q, want %q (dsn %s)", key, params.Get(key), want, got)
				}
			}
		})
	}
}

func TestOpenDB_Memory(t *testing.T) {
	t.Parallel()

	db, err := openDB(Config{DSN: ":memory:", MaxOpenConns: 8})
	if err != nil {
		t.Fatalf("openDB() error = %v", err)
	}
	defer db.Close()

	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
}
