// Package state provides a namespaced key-value store for the relay's
// persistent records: per-conversation history and preferences, and the
// process-wide search credential ledger. Each record is a single value
// that callers read, modify, and write back whole.
//
// Three backends are available: SQLite (the default, a single local
// file), Redis (shared state for deployments that already run one), and
// an in-memory map for tests and throwaway runs.
package state

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store is a namespaced key-value store. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value for a namespace/key pair. A missing key is
	// not an error: Get returns the empty string and nil.
	Get(ctx context.Context, namespace, key string) (string, error)

	// Set upserts a value.
	Set(ctx context.Context, namespace, key, value string) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// Close releases the backend's resources.
	Close() error
}

// Config selects and configures a backend for Open.
type Config struct {
	Driver string // sqlite, redis, memory

	// Path is the SQLite database file.
	Path string

	// Redis connection settings. Prefix is prepended to every key.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open creates the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(client, cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown state driver %q", cfg.Driver)
	}
}
