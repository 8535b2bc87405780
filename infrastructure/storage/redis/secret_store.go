package redis

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/roundtable/domain/vault"
)

// SecretStore is a Redis-backed implementation of vault.Store.
// Each user's secrets live in one hash at <prefix>secrets:<user id>.
type SecretStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewSecretStore connects to Redis with the given configuration.
func NewSecretStore(cfg Config, opts ...ConfigOption) (*SecretStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	options, err := cfg.clientOptions()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)

	dial := options.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dial)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(vault.ErrUnavailable, err)
	}

	return &SecretStore{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewSecretStoreFromClient creates a secret store from an existing Redis client.
func NewSecretStoreFromClient(client *redis.Client, keyPrefix string) *SecretStore {
	return &SecretStore{client: client, keyPrefix: keyPrefix}
}

// userKey returns the hash holding a user's secrets.
func (s *SecretStore) userKey(userID string) string {
	return s.keyPrefix + "secrets:" + userID
}

// GetAll returns every secret the user owns.
func (s *SecretStore) GetAll(ctx context.Context, userID string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, vault.ErrMissingUser
	}

	env, err := s.client.HGetAll(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, wrapError(err)
	}
	return env, nil
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

	return wrapError(s.client.HSet(ctx, s.userKey(userID), key, value).Err())
}

// Delete removes one of the user's secrets.
func (s *SecretStore) Delete(ctx context.Context, userID, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return vault.ErrMissingUser
	}

	n, err := s.client.HDel(ctx, s.userKey(userID), key).Result()
	if err != nil {
		return wrapError(err)
	}
	if n == 0 {
		return vault.ErrNotFound
	}
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

	keys, err := s.client.HKeys(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, wrapError(err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping reports whether Redis is reachable.
func (s *SecretStore) Ping(ctx context.Context) error {
	return wrapError(s.client.Ping(ctx).Err())
}

// Close closes the Redis connection.
func (s *SecretStore) Close() error {
	return s.client.Close()
}

// wrapError wraps Redis errors with domain errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errors.Join(vault.ErrUnavailable, err)
}

var _ vault.Store = (*SecretStore)(nil)
