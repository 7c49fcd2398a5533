// Package natskv implements the key-value port on a NATS JetStream KV bucket.
package natskv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/OpsPilot/internal/port/kvstore"
)

// Store wraps a JetStream KeyValue bucket.
type Store struct {
	kv jetstream.KeyValue
}

var _ kvstore.Store = (*Store)(nil)

// New creates a store on kv.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Get retrieves a value. Deleted and missing keys are a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores a value. TTL is managed at bucket level.
func (s *Store) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := s.kv.Put(ctx, encodeKey(key), value)
	return err
}

// Delete removes a value.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, encodeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// encodeKey maps ':' separated keys onto the dotted key space of JetStream KV.
func encodeKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}
