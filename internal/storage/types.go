package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file at Path
//   - "file": snapshot + journal files next to Path
//   - "memory": nothing persisted
//   - "postgres": DSN required
type Config struct {
	Driver      string
	Path        string
	DSN         string
	MaxConns    int
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the key-value API the lane records are written through.
// Values are opaque bytes; a missing key is (nil, false, nil).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
	// List returns the keys that start with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Swapper is implemented by stores that can compare-and-swap atomically.
type Swapper interface {
	// CompareAndSwap writes val at key only if the current value equals old.
	// A nil old means "key must be absent".
	CompareAndSwap(ctx context.Context, key string, old, val []byte) (bool, error)
}
