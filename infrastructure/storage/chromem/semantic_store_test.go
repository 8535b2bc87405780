package chromem

import (
	"context"
	"errors"
	"testing"

	"github.com/felixgeelhaar/roundtable/domain/knowledge"
)

func newTestStore(t *testing.T, cfg Config) *SemanticStore {
	t.Helper()
	s, err := NewSemanticStore(cfg, nil)
	if err != nil {
		t.Fatalf("NewSemanticStore() error = %v", err)
	}
	return s
}

func TestSemanticStore_UserScopedSearch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Config{})
	ctx := context.Background()

	facts := []knowledge.Fact{
		{ID: "f1", UserID: "alice", Content: "alice trades options on european markets", Type: knowledge.FactContext, Metadata: map[string]string{"source": "onboarding"}},
		{ID: "f2", UserID: "alice", Content: "alice prefers concise reports", Type: knowledge.FactPreference},
		{ID: "f1", UserID: "bob", Content: "bob trades options on european markets", Type: knowledge.FactContext},
	}
	for _, f := range facts {
		if err := s.Index(ctx, f); err != nil {
			t.Fatalf("Index() error = %v", err)
		}
	}
	if s.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", s.Count())
	}

	got, err := s.SearchSimilar(ctx, "alice", "options markets", 10)
	if err != nil {
		t.Fatalf("SearchSimilar() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SearchSimilar() returned %d facts, want 2", len(got))
	}
	for _, f := range got {
		if f.UserID != "alice" {
			t.Errorf("fact %s belongs to %s", f.ID, f.UserID)
		}
	}
	if got[0].ID != "f1" || got[0].Metadata["source"] != "onboarding" {
		t.Errorf("got[0] = %+v, want f1 with metadata", got[0])
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should round-trip through metadata")
	}
}

func TestSemanticStore_Delete(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Config{})
	ctx := context.Background()
	_ = s.Index(ctx, knowledge.Fact{ID: "f1", UserID: "alice", Content: "x", Type: knowledge.FactGoal})

	if err := s.Delete(ctx, "bob", "f1"); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("Delete() across users error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "alice", "f1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count() = %d, want 0", s.Count())
	}

	got, err := s.SearchSimilar(ctx, "alice", "x", 3)
	if err != nil || len(got) != 0 {
		t.Errorf("SearchSimilar() on empty store = %v, %v", got, err)
	}
}

func TestSemanticStore_Validation(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, Config{})
	ctx := context.Background()

	if _, err := s.SearchSimilar(ctx, "", "q", 1); !errors.Is(err, knowledge.ErrMissingUser) {
		t.Errorf("SearchSimilar() error = %v, want ErrMissingUser", err)
	}
	if err := s.Index(ctx, knowledge.Fact{ID: "f", Content: "x", Type: knowledge.FactGoal}); !errors.Is(err, knowledge.ErrMissingUser) {
		t.Errorf("Index() error = %v, want ErrMissingUser", err)
	}
	if got, _ := s.SearchSimilar(ctx, "alice", "q", 0); len(got) != 0 {
		t.Errorf("SearchSimilar(limit 0) = %v, want empty", got)
	}
}

func TestSemanticStore_Persistent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	s := newTestStore(t, Config{PersistPath: dir})
	if err := s.Index(ctx, knowledge.Fact{ID: "f1", UserID: "alice", Content: "persisted fact", Type: knowledge.FactContext}); err != nil {
		t.Fatalf("Index() error = %v", err)
	}

	reopened := newTestStore(t, Config{PersistPath: dir})
	got, err := reopened.SearchSimilar(ctx, "alice", "persisted", 1)
	if err != nil {
		t.Fatalf("SearchSimilar() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "f1" {
		t.Errorf("SearchSimilar() after reopen = %+v", got)
	}
}
