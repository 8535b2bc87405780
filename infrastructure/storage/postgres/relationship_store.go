package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/roundtable/domain/knowledge"
)

// RelationshipStore is a PostgreSQL-backed implementation of
// knowledge.RelationshipStore.
type RelationshipStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewRelationshipStore creates a new PostgreSQL relationship store.
func NewRelationshipStore(pool *pgxpool.Pool, schema string) *RelationshipStore {
	if schema == "" {
		schema = "public"
	}
	return &RelationshipStore{pool: pool, schema: schema}
}

func (s *RelationshipStore) table(name string) string {
	return fmt.Sprintf("%s.%s", s.schema, name)
}

// Migrate creates the store's tables if they do not exist.
func (s *RelationshipStore) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			user_id      TEXT NOT NULL,
			extension_id TEXT NOT NULL,
			enabled_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, extension_id)
		)`, s.table("user_extensions")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			content    TEXT NOT NULL,
			type       TEXT NOT NULL,
			metadata   JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, id)
		)`, s.table("facts")),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return s.wrapError(err)
		}
	}
	return nil
}

// FindEnabledExtensions returns the user's extensions in the order enabled.
func (s *RelationshipStore) FindEnabledExtensions(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, knowledge.ErrMissingUser
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT extension_id FROM %s WHERE user_id = $1 ORDER BY enabled_at, extension_id", s.table("user_extensions")),
		userID,
	)
	if err != nil {
		return nil, s.wrapError(err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, s.wrapError(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// FindRelatedFacts returns the user's facts, newest first.
func (s *RelationshipStore) FindRelatedFacts(ctx context.Context, userID string) ([]knowledge.Fact, error) {
	if userID == "" {
		return nil, knowledge.ErrMissingUser
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, user_id, content, type, metadata, created_at FROM %s
			WHERE user_id = $1 ORDER BY created_at DESC, id`, s.table("facts")),
		userID,
	)
	if err != nil {
		return nil, s.wrapError(err)
	}
	defer rows.Close()

	facts := []knowledge.Fact{}
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, s.wrapError(err)
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapError(err)
	}
	return facts, nil
}

// SaveFact inserts or replaces a fact.
func (s *RelationshipStore) SaveFact(ctx context.Context, fact knowledge.Fact) error {
	if err := fact.Validate(); err != nil {
		return err
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now().UTC()
	}

	var metadata []byte
	if len(fact.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(fact.Metadata); err != nil {
			return err
		}
	}

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id, content, type, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, id) DO UPDATE
			SET content = EXCLUDED.content, type = EXCLUDED.type, metadata = EXCLUDED.metadata`, s.table("facts")),
		fact.ID, fact.UserID, fact.Content, string(fact.Type), metadata, fact.CreatedAt,
	)
	return s.wrapError(err)
}

// DeleteFact removes a fact owned by the user.
func (s *RelationshipStore) DeleteFact(ctx context.Context, userID, factID string) error {
	if userID == "" {
		return knowledge.ErrMissingUser
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE user_id = $1 AND id = $2", s.table("facts")),
		userID, factID,
	)
	if err != nil {
		return s.wrapError(err)
	}
	if tag.RowsAffected() == 0 {
		return knowledge.ErrNotFound
	}
	return nil
}

// EnableExtension records an extension for the user. Enabling twice is a no-op.
func (s *RelationshipStore) EnableExtension(ctx context.Context, userID, extensionID string) error {
	if userID == "" {
		return knowledge.ErrMissingUser
	}

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, extension_id) VALUES ($1, $2)
			ON CONFLICT (user_id, extension_id) DO NOTHING`, s.table("user_extensions")),
		userID, extensionID,
	)
	return s.wrapError(err)
}

// Ping implements knowledge.Pinger.
func (s *RelationshipStore) Ping(ctx context.Context) error {
	return s.wrapError(s.pool.Ping(ctx))
}

func scanFact(rows pgx.Rows) (knowledge.Fact, error) {
	var (
		f        knowledge.Fact
		typ      string
		metadata []byte
	)
	if err := rows.Scan(&f.ID, &f.UserID, &f.Content, &typ, &metadata, &f.CreatedAt); err != nil {
		return f, err
	}
	f.Type = knowledge.FactType(typ)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &f.Metadata); err != nil {
			return f, err
		}
	}
	return f, nil
}

// wrapError wraps database errors with domain errors.
func (s *RelationshipStore) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errors.Join(knowledge.ErrUnavailable, err)
}

var (
	_ knowledge.RelationshipStore = (*RelationshipStore)(nil)
	_ knowledge.Pinger            = (*RelationshipStore)(nil)
)
