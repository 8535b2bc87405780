// Package vault defines the per-user secret store contract.
package vault

import (
	"context"
	"errors"
)

// Store holds secrets scoped strictly to their owning user.
// Implementations must never return another user's secrets.
type Store interface {
	// GetAll returns every secret the user owns as a key/value environment.
	GetAll(ctx context.Context, userID string) (map[string]string, error)

	// Set stores a secret for the user.
	Set(ctx context.Context, userID, key, value string) error

	// Delete removes one of the user's secrets.
	Delete(ctx context.Context, userID, key string) error

	// Keys lists the user's secret names without their values.
	Keys(ctx context.Context, userID string) ([]string, error)
}

// Domain errors for secret storage.
var (
	// ErrMissingUser indicates a request without the mandatory user scope.
	ErrMissingUser = errors.New("user id is required")

	// ErrInvalidKey indicates an empty or malformed secret name.
	ErrInvalidKey = errors.New("invalid secret key")

	// ErrNotFound indicates the secret does not exist.
	ErrNotFound = errors.New("secret not found")

	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("secret store unavailable")
)

// ValidateKey checks that a secret name can be used as an environment variable.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	for i, r := range key {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return ErrInvalidKey
		}
	}
	return nil
}
