// Package store provides the key-value storage port and its backends.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Logical keys shared by the history and the game.
const (
	HistoryKey   = "emotion-history"
	HighScoreKey = "emotion-game-highscore"
)

// Store is a small durable key-value port.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	// SQLite
	DBPath string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open returns the backend named by opts.Backend. An empty backend means SQLite.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		return NewSQLiteStore(opts.DBPath)
	case BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Prefix:   opts.RedisPrefix,
		})
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (valid: sqlite, redis, memory)", opts.Backend)
	}
}

// DefaultDBPath returns ~/.emotion-lens/emotion.db.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".emotion-lens", "emotion.db")
}
