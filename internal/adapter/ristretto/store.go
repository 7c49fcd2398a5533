// Package ristretto implements the key-value port using dgraph-io/ristretto as
// an in-process L1 cache.
package ristretto

import (
	"bytes"
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/OpsPilot/internal/port/kvstore"
)

// Store wraps a ristretto cache. Entries may be evicted under memory
// pressure, so it is only used in front of a durable store.
type Store struct {
	c *ristretto.Cache[string, []byte]
}

var _ kvstore.Store = (*Store)(nil)

// New creates a ristretto-backed store. maxCostBytes is the maximum total
// size of cached values in bytes.
func New(maxCostBytes int64) (*Store, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxCostBytes/100*10, 1000), // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

// Get retrieves a copy of a cached value.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := s.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return bytes.Clone(val), true, nil
}

// Set stores a copy of value with the given TTL and waits until it is
// visible to Get. A zero ttl never expires.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.c.SetWithTTL(key, bytes.Clone(value), int64(len(value)), ttl)
	s.c.Wait()
	return nil
}

// Delete removes a value.
func (s *Store) Delete(_ context.Context, key string) error {
	s.c.Del(key)
	return nil
}

// Close shuts down the cache and releases resources.
func (s *Store) Close() {
	s.c.Close()
}
