package knowledge

import "errors"

// Domain errors for knowledge storage.
var (
	// ErrMissingUser indicates a query without the mandatory user scope.
	ErrMissingUser = errors.New("user id is required")

	// ErrNotFound indicates the requested fact was not found.
	ErrNotFound = errors.New("fact not found")

	// ErrInvalidFact indicates a fact with an empty id or content.
	ErrInvalidFact = errors.New("invalid fact")

	// ErrInvalidType indicates an unknown fact type.
	ErrInvalidType = errors.New("invalid fact type")

	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("knowledge store unavailable")
)
