// Package redis provides a Redis-backed secret store.
package redis

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings for the secret store.
type Config struct {
	// DSN is either host:port or a redis:// or rediss:// URL. A URL may
	// carry the password and database index.
	DSN string

	// Password overrides any password in the DSN.
	Password string

	// Timeout bounds dialing and each socket read or write.
	Timeout time.Duration

	// PoolSize caps open connections.
	PoolSize int

	// KeyPrefix namespaces the per-user secret hashes.
	KeyPrefix string
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		DSN:       "localhost:6379",
		Timeout:   3 * time.Second,
		PoolSize:  10,
		KeyPrefix: "roundtable:",
	}
}

// ConfigOption configures the Redis connection.
type ConfigOption func(*Config)

// WithDSN sets the server address or URL.
func WithDSN(dsn string) ConfigOption {
	return func(c *Config) {
		c.DSN = dsn
	}
}

// WithPassword sets the authentication password.
func WithPassword(password string) ConfigOption {
	return func(c *Config) {
		c.Password = password
	}
}

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) ConfigOption {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithTimeout sets the dial and I/O timeout.
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = d
	}
}

// clientOptions converts the configuration to go-redis options.
func (c Config) clientOptions() (*redis.Options, error) {
	var opts *redis.Options
	if strings.HasPrefix(c.DSN, "redis://") || strings.HasPrefix(c.DSN, "rediss://") {
		parsed, err := redis.ParseURL(c.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		if c.DSN == "" {
			return nil, errors.New("redis address is required")
		}
		opts = &redis.Options{Addr: c.DSN}
	}

	if c.Password != "" {
		opts.Password = c.Password
	}
	if c.Timeout > 0 {
		opts.DialTimeout = c.Timeout
		opts.ReadTimeout = c.Timeout
		opts.WriteTimeout = c.Timeout
	}
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	return opts, nil
}
