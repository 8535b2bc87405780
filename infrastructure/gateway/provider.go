// Package gateway provides the reasoning call gateway and its providers.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Provider sends one completion request to a language model.
type Provider interface {
	// Complete returns the model's text for the request.
	Complete(ctx context.Context, req Request) (string, error)

	// Name returns the provider name for logging.
	Name() string
}

// Request is one completion request.
type Request struct {
	// Role is the specialist role issuing the request.
	Role string
	// Model is the provider model name.
	Model string
	// System carries the specialist instructions.
	System string
	// Prompt is the user prompt.
	Prompt string
	// Temperature is the sampling temperature.
	Temperature float64
	// MaxTokens caps the response length.
	MaxTokens int
	// JSON asks the provider for a JSON object response when supported.
	JSON bool
}

// Provider errors.
var (
	// ErrEmptyResponse indicates the provider returned no content.
	ErrEmptyResponse = errors.New("empty provider response")

	// ErrScriptExhausted indicates a scripted provider has no response for a role.
	ErrScriptExhausted = errors.New("script exhausted")
)

// APIError is an error reported by a provider API.
type APIError struct {
	Provider string
	Status   int
	Type     string
	Message  string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s error (status %d): %s: %s", e.Provider, e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.Status, e.Message)
}
