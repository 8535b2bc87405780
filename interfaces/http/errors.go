package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/felixgeelhaar/roundtable/domain/knowledge"
	"github.com/felixgeelhaar/roundtable/domain/task"
	"github.com/felixgeelhaar/roundtable/domain/vault"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
)

// Error codes returned in error bodies.
const (
	ErrCodeBadRequest  = "BAD_REQUEST"
	ErrCodeRateLimited = "RATE_LIMIT_EXCEEDED"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeNoJournal   = "NO_JOURNAL"
	ErrCodeNoAudit     = "NO_AUDIT"
	ErrCodeUnavailable = "STORE_UNAVAILABLE"
	ErrCodeInternal    = "INTERNAL"
)

// ErrorResponse is the body of every non-streamed failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: message})
}

func missingField(c *gin.Context, field string) {
	abort(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("Missing required field: %s", field))
}

func invalidBody(c *gin.Context, err error) {
	abort(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("Invalid request body: %v", err))
}

// storeError maps a store failure to its HTTP status.
func storeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, knowledge.ErrMissingUser),
		errors.Is(err, knowledge.ErrInvalidFact),
		errors.Is(err, knowledge.ErrInvalidType),
		errors.Is(err, vault.ErrMissingUser),
		errors.Is(err, vault.ErrInvalidKey),
		errors.Is(err, task.ErrInvalidInput):
		abort(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, knowledge.ErrNotFound), errors.Is(err, vault.ErrNotFound):
		abort(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, knowledge.ErrUnavailable), errors.Is(err, vault.ErrUnavailable):
		logging.Error().
			Add(logging.Component("http")).
			Add(logging.Operation(op)).
			Add(logging.ErrorField(err)).
			Msg("store unavailable")
		abort(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "store unavailable")
	default:
		logging.Error().
			Add(logging.Component("http")).
			Add(logging.Operation(op)).
			Add(logging.ErrorField(err)).
			Msg("request failed")
		abort(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
