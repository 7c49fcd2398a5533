// Package kvstore defines the opaque key-value port used for pipeline
// snapshots.
package kvstore

import (
	"context"
	"time"
)

// Store is a key-value store. A zero ttl means the backend default.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
