// Package kvstore persists opaque blobs under string keys. Writes are
// last-writer-wins; there is no versioning or conflict detection.
package kvstore

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("kvstore: key not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options configures Open. Backend is one of sqlite, redis or memory.
type Options struct {
	Backend       string
	DatabasePath  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "sqlite":
		return OpenSQLite(opts.DatabasePath)
	case "redis":
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
