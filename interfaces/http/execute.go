package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/felixgeelhaar/roundtable/domain/event"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
)

const (
	runIDHeader     = "X-Run-ID"
	mimeNDJSON      = "application/x-ndjson"
	mimeSSE         = "text/event-stream"
	sseHeartbeat    = ": heartbeat\n\n"
	ndjsonKeepAlive = "\n"
)

type executeRequest struct {
	Task   string `json:"task"`
	UserID string `json:"user_id"`
}

// streamWriter frames events for one response format.
type streamWriter interface {
	contentType() string
	frame(line []byte) []byte
	heartbeat() string
}

type sseWriter struct{}

func (sseWriter) contentType() string { return mimeSSE }
func (sseWriter) heartbeat() string { return sseHeartbeat }

// frame turns a newline-terminated JSON line into one SSE data frame.
func (sseWriter) frame(line []byte) []byte {
	out := make([]byte, 0, len(line)+8)
	out = append(out, "data: "...)
	out = append(out, line[:len(line)-1]...)
	return append(out, '\n', '\n')
}

type ndjsonWriter struct{}

func (ndjsonWriter) contentType() string { return mimeNDJSON }
func (ndjsonWriter) heartbeat() string { return ndjsonKeepAlive }
func (ndjsonWriter) frame(line []byte) []byte { return line }

func negotiate(accept string) streamWriter {
	if strings.Contains(accept, mimeNDJSON) {
		return ndjsonWriter{}
	}
	return sseWriter{}
}

func (s *Server) execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c, err)
		return
	}
	switch {
	case strings.TrimSpace(req.Task) == "":
		missingField(c, "task")
		return
	case strings.TrimSpace(req.UserID) == "":
		missingField(c, "user_id")
		return
	}

	if !s.limiter.Allow(c.Request.Context(), req.UserID) {
		logging.Warn().
			Add(logging.Component("http")).
			Add(logging.UserID(req.UserID)).
			Msg("execution rate limit exceeded")
		abort(c, http.StatusTooManyRequests, ErrCodeRateLimited, "Too many executions, retry later")
		return
	}

	inv, err := s.rt.Engine.NewInvocation(req.Task, req.UserID)
	if err != nil {
		storeError(c, "execute", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub := inv.Subscribe()
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		inv.Run(ctx)
	}()

	w := negotiate(c.GetHeader("Accept"))
	header := c.Writer.Header()
	header.Set("Content-Type", w.contentType())
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set(runIDHeader, inv.RunID())
	c.Status(http.StatusOK)
	c.Writer.Flush()

	if err := s.stream(ctx, c, w, sub.Events()); err != nil {
		logging.Warn().
			Add(logging.Component("http")).
			Add(logging.RunID(inv.RunID())).
			Add(logging.ErrorField(err)).
			Msg("event stream interrupted")
		cancel()
	}
	<-done
}

// stream writes events until the terminal one, keeping idle connections
// alive with heartbeats.
func (s *Server) stream(ctx context.Context, c *gin.Context, w streamWriter, events <-chan event.Event) error {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return nil
			}
			line, err := e.MarshalLine()
			if err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
			if _, err := c.Writer.Write(w.frame(line)); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
			c.Writer.Flush()
			if e.IsTerminal() {
				return nil
			}
		case <-ticker.C:
			if _, err := c.Writer.WriteString(w.heartbeat()); err != nil {
				return fmt.Errorf("write heartbeat: %w", err)
			}
			c.Writer.Flush()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
