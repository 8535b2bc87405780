// Package memory provides in-memory implementations of the engine's stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/knowledge"
)

// RelationshipStore is an in-memory implementation of knowledge.RelationshipStore.
type RelationshipStore struct {
	users map[string]*userRecord
	mu    sync.RWMutex
}

type userRecord struct {
	extensions []string
	facts      map[string]knowledge.Fact
}

// NewRelationshipStore creates a new in-memory relationship store.
func NewRelationshipStore() *RelationshipStore {
	return &RelationshipStore{users: make(map[string]*userRecord)}
}

func (s *RelationshipStore) user(userID string) *userRecord {
	u, ok := s.users[userID]
	if !ok {
		u = &userRecord{facts: make(map[string]knowledge.Fact)}
		s.users[userID] = u
	}
	return u
}

// FindEnabledExtensions returns the user's extensions in installation order.
func (s *RelationshipStore) FindEnabledExtensions(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, knowledge.ErrMissingUser
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return []string{}, nil
	}
	out := make([]string, len(u.extensions))
	copy(out, u.extensions)
	return out, nil
}

// FindRelatedFacts returns the user's facts, newest first.
func (s *RelationshipStore) FindRelatedFacts(ctx context.Context, userID string) ([]knowledge.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, knowledge.ErrMissingUser
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return []knowledge.Fact{}, nil
	}
	facts := make([]knowledge.Fact, 0, len(u.facts))
	for _, f := range u.facts {
		facts = append(facts, copyFact(f))
	}
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].CreatedAt.Equal(facts[j].CreatedAt) {
			return facts[i].ID < facts[j].ID
		}
		return facts[i].CreatedAt.After(facts[j].CreatedAt)
	})
	return facts, nil
}

// SaveFact stores or replaces a fact.
func (s *RelationshipStore) SaveFact(ctx context.Context, fact knowledge.Fact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fact.Validate(); err != nil {
		return err
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.user(fact.UserID).facts[fact.ID] = copyFact(fact)
	return nil
}

// DeleteFact removes a fact owned by the user.
func (s *RelationshipStore) DeleteFact(ctx context.Context, userID, factID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return knowledge.ErrMissingUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return knowledge.ErrNotFound
	}
	if _, ok := u.facts[factID]; !ok {
		return knowledge.ErrNotFound
	}
	delete(u.facts, factID)
	return nil
}

// EnableExtension records an extension for the user. Enabling twice is a no-op.
func (s *RelationshipStore) EnableExtension(ctx context.Context, userID, extensionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return knowledge.ErrMissingUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	for _, e := range u.extensions {
		if e == extensionID {
			return nil
		}
	}
	u.extensions = append(u.extensions, extensionID)
	return nil
}

// Ping implements knowledge.Pinger.
func (s *RelationshipStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func copyFact(f knowledge.Fact) knowledge.Fact {
	f.Metadata = copyMetadata(f.Metadata)
	return f
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

var (
	_ knowledge.RelationshipStore = (*RelationshipStore)(nil)
	_ knowledge.Pinger            = (*RelationshipStore)(nil)
)
