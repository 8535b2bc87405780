// Package chromem provides a chromem-go backed semantic store.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/felixgeelhaar/roundtable/domain/knowledge"
	"github.com/felixgeelhaar/roundtable/infrastructure/embedding"
)

const (
	metaUser      = "user_id"
	metaFact      = "fact_id"
	metaType      = "type"
	metaCreatedAt = "created_at"
	metaPrefix    = "meta."
)

// Config configures the chromem store.
type Config struct {
	// PersistPath is a directory for the gob-encoded database. Empty keeps it in memory.
	PersistPath string

	// Collection names the collection holding facts.
	Collection string

	// Compress gzips the persisted database.
	Compress bool
}

// SemanticStore implements knowledge.SemanticStore on a chromem collection.
// Every fact carries its owner in metadata and every query filters on it.
type SemanticStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewSemanticStore opens (or creates) the database and collection.
func NewSemanticStore(cfg Config, embed embedding.Func) (*SemanticStore, error) {
	if cfg.Collection == "" {
		cfg.Collection = "facts"
	}
	if embed == nil {
		embed = embedding.Hashing(embedding.DefaultDimension)
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.PersistPath, "chromem.gob"), cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &SemanticStore{db: db, collection: collection}, nil
}

func documentID(userID, factID string) string {
	return userID + "\x1f" + factID
}

// Index adds or replaces a fact.
func (s *SemanticStore) Index(ctx context.Context, fact knowledge.Fact) error {
	if err := fact.Validate(); err != nil {
		return err
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}

	metadata := map[string]string{
		metaUser:      fact.UserID,
		metaFact:      fact.ID,
		metaType:      string(fact.Type),
		metaCreatedAt: fact.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fact.Metadata {
		metadata[metaPrefix+k] = v
	}

	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:       documentID(fact.UserID, fact.ID),
		Content:  fact.Content,
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("add document %s: %w", fact.ID, err)
	}
	return nil
}

// SearchSimilar returns up to limit of the user's facts ordered by similarity.
func (s *SemanticStore) SearchSimilar(ctx context.Context, userID, query string, limit int) ([]knowledge.Fact, error) {
	if userID == "" {
		return nil, knowledge.ErrMissingUser
	}
	if limit <= 0 {
		return []knowledge.Fact{}, nil
	}
	// chromem rejects nResults above the collection size
	if n := s.collection.Count(); n == 0 {
		return []knowledge.Fact{}, nil
	} else if limit > n {
		limit = n
	}

	results, err := s.collection.Query(ctx, query, limit, map[string]string{metaUser: userID}, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	facts := make([]knowledge.Fact, 0, len(results))
	for _, r := range results {
		facts = append(facts, toFact(r.Content, r.Metadata, r.Similarity))
	}
	return facts, nil
}

// Delete removes a fact from the user's partition.
func (s *SemanticStore) Delete(ctx context.Context, userID, factID string) error {
	if userID == "" {
		return knowledge.ErrMissingUser
	}

	id := documentID(userID, factID)
	if _, err := s.collection.GetByID(ctx, id); err != nil {
		return knowledge.ErrNotFound
	}
	if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document %s: %w", factID, err)
	}
	return nil
}

// Count returns the number of indexed facts across all users.
func (s *SemanticStore) Count() int {
	return s.collection.Count()
}

// Ping implements knowledge.Pinger.
func (s *SemanticStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.collection == nil {
		return errors.Join(knowledge.ErrUnavailable, errors.New("collection not initialized"))
	}
	return nil
}

func toFact(content string, metadata map[string]string, similarity float32) knowledge.Fact {
	f := knowledge.Fact{
		ID:      metadata[metaFact],
		UserID:  metadata[metaUser],
		Content: content,
		Type:    knowledge.FactType(metadata[metaType]),
		Score:   similarity,
	}
	if ts, err := time.Parse(time.RFC3339Nano, metadata[metaCreatedAt]); err == nil {
		f.CreatedAt = ts
	}
	for k, v := range metadata {
		if rest, ok := strings.CutPrefix(k, metaPrefix); ok {
			if f.Metadata == nil {
				f.Metadata = make(map[string]string)
			}
			f.Metadata[rest] = v
		}
	}
	return f
}

var (
	_ knowledge.SemanticStore = (*SemanticStore)(nil)
	_ knowledge.Pinger        = (*SemanticStore)(nil)
)
