package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
)

// Vault actions.
const (
	vaultSet    = "set"
	vaultDelete = "delete"
)

type vaultRequest struct {
	Action string `json:"action"`
	UserID string `json:"user_id"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

// KeysResponse lists secret names. Values are never returned.
type KeysResponse struct {
	Keys []string `json:"keys"`
}

func (s *Server) vault(c *gin.Context) {
	var req vaultRequest
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
	}

	ctx := c.Request.Context()
	switch req.Action {
	case vaultSet:
		if req.Value == "" {
			missingField(c, "value")
			return
		}
		if err := s.rt.Secrets.Set(ctx, req.UserID, req.Key, req.Value); err != nil {
			storeError(c, "vault_set", err)
			return
		}
	case vaultDelete:
		if err := s.rt.Secrets.Delete(ctx, req.UserID, req.Key); err != nil {
			storeError(c, "vault_delete", err)
			return
		}
	default:
		abort(c, http.StatusBadRequest, ErrCodeBadRequest, "action must be set or delete")
		return
	}

	logging.Info().
		Add(logging.Component("http")).
		Add(logging.UserID(req.UserID)).
		Add(logging.Operation("vault_"+req.Action)).
		Add(logging.Str("key", req.Key)).
		Msg("vault updated")
	c.JSON(http.StatusOK, MessageResponse{Success: true})
}

func (s *Server) vaultKeys(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		missingField(c, "user_id")
		return
	}

	keys, err := s.rt.Secrets.Keys(c.Request.Context(), userID)
	if err != nil {
		storeError(c, "vault_keys", err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	c.JSON(http.StatusOK, KeysResponse{Keys: keys})
}
