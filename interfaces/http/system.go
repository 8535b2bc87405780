package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/felixgeelhaar/roundtable/application"
	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
	"github.com/felixgeelhaar/roundtable/infrastructure/security/audit"
)

// maxAuditEvents caps one audit page.
const maxAuditEvents = 500

type installRequest struct {
	SkillID string `json:"skill_id"`
	UserID  string `json:"user_id"`
}

func (s *Server) installExtension(c *gin.Context) {
	var req installRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	switch {
	case req.SkillID == "":
		missingField(c, "skill_id")
		return
	case req.UserID == "":
		missingField(c, "user_id")
		return
	}

	if err := s.rt.Relationships.EnableExtension(c.Request.Context(), req.UserID, req.SkillID); err != nil {
		storeError(c, "install_extension", err)
		return
	}

	name := req.SkillID
	if skill, ok := s.rt.Registry.Skill(req.SkillID); ok {
		name = skill.Name
	}
	logging.Info().
		Add(logging.Component("http")).
		Add(logging.UserID(req.UserID)).
		Add(logging.Str("skill", name)).
		Msg("extension installed")
	c.JSON(http.StatusOK, MessageResponse{Success: true})
}

// status reports store reachability, answering 503 on a partial outage.
func (s *Server) status(c *gin.Context) {
	h := s.rt.Health(c.Request.Context())
	code := http.StatusOK
	if !h.Operational() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, h)
}

func (s *Server) runSummary(c *gin.Context) {
	replay, err := s.rt.Engine.Replay()
	if errors.Is(err, application.ErrNoJournal) {
		abort(c, http.StatusNotImplemented, ErrCodeNoJournal, err.Error())
		return
	}

	summary, err := replay.ReconstructRun(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, event.ErrRunNotFound):
		abort(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	case err != nil:
		storeError(c, "run_summary", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// AuditResponse is one page of the audit trail, oldest first.
type AuditResponse struct {
	Events []audit.Event `json:"events"`
}

func (s *Server) auditTrail(c *gin.Context) {
	if s.rt.Audit == nil {
		abort(c, http.StatusNotImplemented, ErrCodeNoAudit, "auditing is disabled")
		return
	}
	userID := c.Query("user_id")
	if userID == "" {
		missingField(c, "user_id")
		return
	}
	limit := maxAuditEvents
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abort(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditEvents)
	}

	events, err := s.rt.Audit.Query(c.Request.Context(), audit.Filter{
		UserID: userID,
		RunID:  c.Query("run_id"),
		Limit:  limit,
	})
	if err != nil {
		storeError(c, "audit_query", err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, AuditResponse{Events: events})
}
