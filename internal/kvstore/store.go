package kvstore

import (
	"context"
	"fmt"
	"time"
)

// Store is the durable key-value store shared by all invocations.
// A zero ttl means the value never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options configures Open
type Options struct {
	Backend  string
	RedisURL string
	Dir      string
	SQLite   string
}

// Open creates the backend named by opts.Backend
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return NewFile(opts.Dir)
	case "redis":
		return NewRedis(opts.RedisURL)
	case "sqlite":
		return NewSQLite(opts.SQLite)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// expired reports whether a value with the given expiry is stale at now.
func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
