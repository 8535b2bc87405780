package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/knowledge"
)

// RelationshipStore is a SQLite-backed implementation of
// knowledge.RelationshipStore.
type RelationshipStore struct {
	db *sql.DB
}

// NewRelationshipStore opens a SQLite relationship store with the given configuration.
func NewRelationshipStore(cfg Config, opts ...Option) (*RelationshipStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &RelationshipStore{db: db}
	if cfg.AutoMigrate {
		if err := s.migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewRelationshipStoreFromDB creates a store from an existing database connection.
func NewRelationshipStoreFromDB(db *sql.DB) (*RelationshipStore, error) {
	s := &RelationshipStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// migrate creates the tables if they don't exist.
func (s *RelationshipStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS user_extensions (
			user_id TEXT NOT NULL,
			extension_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (user_id, extension_id)
		);
		CREATE TABLE IF NOT EXISTS facts (
			id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL,
			metadata BLOB,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_facts_user_created ON facts(user_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}
	return nil
}

// FindEnabledExtensions returns the user's extensions in the order enabled.
func (s *RelationshipStore) FindEnabledExtensions(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, knowledge.ErrMissingUser
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT extension_id FROM user_extensions WHERE user_id = ? ORDER BY position",
		userID,
	)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapError(err)
		}
		ids = append(ids, id)
	}
	return ids, wrapError(rows.Err())
}

// FindRelatedFacts returns the user's facts, newest first.
func (s *RelationshipStore) FindRelatedFacts(ctx context.Context, userID string) ([]knowledge.Fact, error) {
	if userID == "" {
		return nil, knowledge.ErrMissingUser
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, content, type, metadata, created_at FROM facts
		WHERE user_id = ? ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	facts := []knowledge.Fact{}
	for rows.Next() {
		var (
			f         knowledge.Fact
			typ       string
			metadata  []byte
			createdAt int64
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.Content, &typ, &metadata, &createdAt); err != nil {
			return nil, wrapError(err)
		}
		f.Type = knowledge.FactType(typ)
		f.CreatedAt = time.Unix(0, createdAt)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &f.Metadata); err != nil {
				return nil, err
			}
		}
		facts = append(facts, f)
	}
	return facts, wrapError(rows.Err())
}

// SaveFact inserts or replaces a fact.
func (s *RelationshipStore) SaveFact(ctx context.Context, fact knowledge.Fact) error {
	if err := fact.Validate(); err != nil {
		return err
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}

	var metadata []byte
	if len(fact.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(fact.Metadata); err != nil {
			return err
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (id, user_id, content, type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, id) DO UPDATE
		SET content = excluded.content, type = excluded.type, metadata = excluded.metadata`,
		fact.ID, fact.UserID, fact.Content, string(fact.Type), metadata, fact.CreatedAt.UnixNano(),
	)
	return wrapError(err)
}

// DeleteFact removes a fact owned by the user.
func (s *RelationshipStore) DeleteFact(ctx context.Context, userID, factID string) error {
	if userID == "" {
		return knowledge.ErrMissingUser
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM facts WHERE user_id = ? AND id = ?", userID, factID)
	if err != nil {
		return wrapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return wrapError(err)
	}
	if n == 0 {
		return knowledge.ErrNotFound
	}
	return nil
}

// EnableExtension records an extension for the user. Enabling twice is a no-op.
func (s *RelationshipStore) EnableExtension(ctx context.Context, userID, extensionID string) error {
	if userID == "" {
		return knowledge.ErrMissingUser
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_extensions (user_id, extension_id, position)
		SELECT ?, ?, COALESCE(MAX(position), 0) + 1 FROM user_extensions WHERE user_id = ?
		ON CONFLICT (user_id, extension_id) DO NOTHING`,
		userID, extensionID, userID,
	)
	return wrapError(err)
}

// Ping implements knowledge.Pinger.
func (s *RelationshipStore) Ping(ctx context.Context) error {
	return wrapError(s.db.PingContext(ctx))
}

// Close closes the database connection.
func (s *RelationshipStore) Close() error {
	return s.db.Close()
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Join(knowledge.ErrUnavailable, err)
}

var (
	_ knowledge.RelationshipStore = (*RelationshipStore)(nil)
	_ knowledge.Pinger            = (*RelationshipStore)(nil)
)
