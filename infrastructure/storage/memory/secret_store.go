package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/felixgeelhaar/roundtable/domain/vault"
)

// SecretStore is an in-memory implementation of vault.Store.
type SecretStore struct {
	secrets map[string]map[string]string // userID -> key -> value
	mu      sync.RWMutex
}

// NewSecretStore creates a new in-memory secret store.
func NewSecretStore() *SecretStore {
	return &SecretStore{secrets: make(map[string]map[string]string)}
}

// GetAll returns a copy of every secret the user owns.
func (s *SecretStore) GetAll(ctx context.Context, userID string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, vault.ErrMissingUser
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.secrets[userID]))
	for k, v := range s.secrets[userID] {
		out[k] = v
	}
	return out, nil
}

// Set stores a secret for the user.
func (s *SecretStore) Set(ctx context.Context, userID, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return vault.ErrMissingUser
	}
	if err := vault.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.secrets[userID]
	if !ok {
		user = make(map[string]string)
		s.secrets[userID] = user
	}
	user[key] = value
	return nil
}

// Delete removes one of the user's secrets.
func (s *SecretStore) Delete(ctx context.Context, userID, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return vault.ErrMissingUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[userID][key]; !ok {
		return vault.ErrNotFound
	}
	delete(s.secrets[userID], key)
	return nil
}

// Keys lists the user's secret names in sorted order.
func (s *SecretStore) Keys(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, vault.ErrMissingUser
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.secrets[userID]))
	for k := range s.secrets[userID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping reports reachability.
func (s *SecretStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

var _ vault.Store = (*SecretStore)(nil)
