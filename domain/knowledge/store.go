// Package knowledge provides the user knowledge model: facts held in a
// relationship store and indexed in a semantic store for similarity search.
package knowledge

import (
	"context"
	"time"
)

// FactType classifies a fact.
type FactType string

// Fact types.
const (
	FactPreference FactType = "preference"
	FactContext    FactType = "context"
	FactGoal       FactType = "goal"
	FactConstraint FactType = "constraint"
)

// IsValid returns true if the fact type is recognized.
func (t FactType) IsValid() bool {
	switch t {
	case FactPreference, FactContext, FactGoal, FactConstraint:
		return true
	default:
		return false
	}
}

// Fact is one piece of knowledge owned by a user.
type Fact struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Content   string            `json:"content"`
	Type      FactType          `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Score     float32           `json:"score,omitempty"` // similarity, set by searches
	CreatedAt time.Time         `json:"created_at"`
}

// Validate checks the fact for storage.
func (f Fact) Validate() error {
	if f.UserID == "" {
		return ErrMissingUser
	}
	if f.ID == "" || f.Content == "" {
		return ErrInvalidFact
	}
	if !f.Type.IsValid() {
		return ErrInvalidType
	}
	return nil
}

// RelationshipStore holds users, their facts and their enabled capability
// extensions. Every operation is scoped to a user id.
type RelationshipStore interface {
	// FindEnabledExtensions returns the extension ids the user has enabled.
	FindEnabledExtensions(ctx context.Context, userID string) ([]string, error)

	// FindRelatedFacts returns the facts owned by the user.
	FindRelatedFacts(ctx context.Context, userID string) ([]Fact, error)

	// SaveFact stores or replaces a fact.
	SaveFact(ctx context.Context, fact Fact) error

	// DeleteFact removes a fact owned by the user.
	DeleteFact(ctx context.Context, userID, factID string) error

	// EnableExtension records that the user enabled an extension.
	EnableExtension(ctx context.Context, userID, extensionID string) error
}

// SemanticStore indexes facts for similarity search.
// Every operation is scoped to a user id.
type SemanticStore interface {
	// SearchSimilar returns up to limit facts most similar to the query.
	SearchSimilar(ctx context.Context, userID, query string, limit int) ([]Fact, error)

	// Index adds or replaces a fact in the index.
	Index(ctx context.Context, fact Fact) error

	// Delete removes a fact from the index.
	Delete(ctx context.Context, userID, factID string) error
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
