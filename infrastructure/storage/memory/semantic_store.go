package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/knowledge"
	"github.com/felixgeelhaar/roundtable/infrastructure/embedding"
)

// SemanticStore is an in-memory vector index with cosine similarity search,
// partitioned by user.
type SemanticStore struct {
	embed   embedding.Func
	vectors map[string]map[string]*indexedFact // userID -> factID -> fact
	mu      sync.RWMutex
}

type indexedFact struct {
	fact      knowledge.Fact
	embedding []float32
}

// NewSemanticStore creates a new in-memory semantic store. A nil embedder
// uses the hashing embedder.
func NewSemanticStore(embed embedding.Func) *SemanticStore {
	if embed == nil {
		embed = embedding.Hashing(embedding.DefaultDimension)
	}
	return &SemanticStore{
		embed:   embed,
		vectors: make(map[string]map[string]*indexedFact),
	}
}

// Index adds or replaces a fact in the index.
func (s *SemanticStore) Index(ctx context.Context, fact knowledge.Fact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fact.Validate(); err != nil {
		return err
	}

	vec, err := s.embed(ctx, fact.Content)
	if err != nil {
		return fmt.Errorf("embed fact: %w", err)
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.vectors[fact.UserID]
	if !ok {
		user = make(map[string]*indexedFact)
		s.vectors[fact.UserID] = user
	}
	user[fact.ID] = &indexedFact{fact: copyFact(fact), embedding: vec}
	return nil
}

// SearchSimilar returns up to limit of the user's facts ordered by similarity.
// Only the user's own partition is scanned.
func (s *SemanticStore) SearchSimilar(ctx context.Context, userID, query string, limit int) ([]knowledge.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, knowledge.ErrMissingUser
	}
	if limit <= 0 {
		return []knowledge.Fact{}, nil
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user := s.vectors[userID]
	results := make([]knowledge.Fact, 0, len(user))
	for _, ix := range user {
		f := copyFact(ix.fact)
		f.Score = embedding.Cosine(vec, ix.embedding)
		results = append(results, f)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})
	if limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a fact from the user's partition.
func (s *SemanticStore) Delete(ctx context.Context, userID, factID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return knowledge.ErrMissingUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.vectors[userID]
	if !ok {
		return knowledge.ErrNotFound
	}
	if _, ok := user[factID]; !ok {
		return knowledge.ErrNotFound
	}
	delete(user, factID)
	return nil
}

// Count returns the number of indexed facts across all users.
func (s *SemanticStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, user := range s.vectors {
		n += len(user)
	}
	return n
}

// Ping implements knowledge.Pinger.
func (s *SemanticStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

var (
	_ knowledge.SemanticStore = (*SemanticStore)(nil)
	_ knowledge.Pinger        = (*SemanticStore)(nil)
)
