package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/roundtable/domain/knowledge"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
)

type factRequest struct {
	UserID   string            `json:"user_id"`
	Content  string            `json:"content"`
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata"`
}

type learnRequest struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

type deleteFactRequest struct {
	UserID string `json:"user_id"`
	FactID string `json:"fact_id"`
}

// FactResponse acknowledges a stored fact.
type FactResponse struct {
	Success bool           `json:"success"`
	Fact    knowledge.Fact `json:"fact"`
}

// GraphNode is one vertex of a user's knowledge graph.
type GraphNode struct {
	ID         string            `json:"id"`
	Label      string            `json:"label"`
	Properties map[string]string `json:"properties"`
}

// GraphEdge links the user to a fact or an installed extension.
type GraphEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

// KnowledgeGraph is the user's facts and extensions as nodes and edges.
type KnowledgeGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// ContextResponse wraps the knowledge graph of one user.
type ContextResponse struct {
	KnowledgeGraph KnowledgeGraph `json:"knowledge_graph"`
}

// Edge labels of the knowledge graph.
const (
	edgeInstalled = "INSTALLED"
	edgePrefers   = "PREFERS"
	edgeKnows     = "KNOWS"
)

// MessageResponse acknowledges a mutation.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func factType(s string) knowledge.FactType {
	if s == "" {
		return knowledge.FactContext
	}
	return knowledge.FactType(strings.ToLower(s))
}

func (s *Server) saveFact(c *gin.Context) {
	var req factRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	switch {
	case req.UserID == "":
		missingField(c, "user_id")
		return
	case strings.TrimSpace(req.Content) == "":
		missingField(c, "content")
		return
	}

	fact := knowledge.Fact{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Content:   strings.TrimSpace(req.Content),
		Type:      factType(req.Type),
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.storeFact(c.Request.Context(), fact); err != nil {
		storeError(c, "save_fact", err)
		return
	}
	c.JSON(http.StatusCreated, FactResponse{Success: true, Fact: fact})
}

// learn records a key/value observation about the user as a fact.
func (s *Server) learn(c *gin.Context) {
	var req learnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	switch {
	case req.UserID == "":
		missingField(c, "user_id")
		return
	case req.Key == "":
		missingField(c, "key")
		return
	case req.Value == "":
		missingField(c, "value")
		return
	}

	fact := knowledge.Fact{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Content:   req.Key + ": " + req.Value,
		Type:      factType(req.Type),
		Metadata:  map[string]string{"key": req.Key},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.storeFact(c.Request.Context(), fact); err != nil {
		storeError(c, "learn", err)
		return
	}
	c.JSON(http.StatusCreated, FactResponse{Success: true, Fact: fact})
}

// storeFact writes the fact to the relationship store and indexes it. A
// failed index removes the stored fact again so the stores stay aligned.
func (s *Server) storeFact(ctx context.Context, fact knowledge.Fact) error {
	if err := fact.Validate(); err != nil {
		return err
	}
	if err := s.rt.Relationships.SaveFact(ctx, fact); err != nil {
		return err
	}
	if err := s.rt.Semantic.Index(ctx, fact); err != nil {
		if rerr := s.rt.Relationships.DeleteFact(ctx, fact.UserID, fact.ID); rerr != nil {
			logging.Warn().
				Add(logging.Component("http")).
				Add(logging.UserID(fact.UserID)).
				Add(logging.Str("fact_id", fact.ID)).
				Add(logging.ErrorField(rerr)).
				Msg("rollback of unindexed fact failed")
		}
		return err
	}
	logging.Info().
		Add(logging.Component("http")).
		Add(logging.UserID(fact.UserID)).
		Add(logging.Str("fact_id", fact.ID)).
		Add(logging.Str("fact_type", string(fact.Type))).
		Msg("fact stored")
	return nil
}

func (s *Server) deleteFact(c *gin.Context) {
	var req deleteFactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	if req.UserID == "" || req.FactID == "" {
		abort(c, http.StatusBadRequest, ErrCodeBadRequest, "Missing identifiers")
		return
	}

	ctx := c.Request.Context()
	if err := s.rt.Relationships.DeleteFact(ctx, req.UserID, req.FactID); err != nil {
		storeError(c, "delete_fact", err)
		return
	}
	if err := s.rt.Semantic.Delete(ctx, req.UserID, req.FactID); err != nil && !errors.Is(err, knowledge.ErrNotFound) {
		storeError(c, "delete_fact", err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Success: true, Message: "Memory purged."})
}

// memoryContext returns the facts and enabled extensions of one user as a
// knowledge graph rooted at the user node.
func (s *Server) memoryContext(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		missingField(c, "user_id")
		return
	}

	ctx := c.Request.Context()
	facts, err := s.rt.Relationships.FindRelatedFacts(ctx, userID)
	if err != nil {
		storeError(c, "memory_context", err)
		return
	}
	extensions, err := s.rt.Relationships.FindEnabledExtensions(ctx, userID)
	if err != nil {
		storeError(c, "memory_context", err)
		return
	}

	c.JSON(http.StatusOK, ContextResponse{KnowledgeGraph: knowledgeGraph(userID, facts, extensions)})
}

func knowledgeGraph(userID string, facts []knowledge.Fact, extensions []string) KnowledgeGraph {
	g := KnowledgeGraph{
		Nodes: []GraphNode{{ID: userID, Label: "User", Properties: map[string]string{}}},
		Edges: make([]GraphEdge, 0, len(facts)+len(extensions)),
	}
	for _, f := range facts {
		if f.UserID != userID {
			continue
		}
		props := map[string]string{"content": f.Content, "type": string(f.Type)}
		for k, v := range f.Metadata {
			if _, taken := props[k]; !taken {
				props[k] = v
			}
		}
		label, edge := "Fact", edgeKnows
		if f.Type == knowledge.FactPreference {
			label, edge = "Preference", edgePrefers
		}
		g.Nodes = append(g.Nodes, GraphNode{ID: f.ID, Label: label, Properties: props})
		g.Edges = append(g.Edges, GraphEdge{From: userID, To: f.ID, Label: edge})
	}
	for _, ext := range extensions {
		g.Nodes = append(g.Nodes, GraphNode{ID: ext, Label: "Skill", Properties: map[string]string{"name": ext}})
		g.Edges = append(g.Edges, GraphEdge{From: userID, To: ext, Label: edgeInstalled})
	}
	return g
}
