// Package tiered implements a two-level (L1 + L2) key-value store.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/OpsPilot/internal/port/kvstore"
)

// Store combines an in-process L1 with a durable L2.
// Get checks L1 first, then L2 (backfilling L1 on an L2 hit).
// Set writes L2 before L1 so that L1 never holds a value L2 rejected.
type Store struct {
	l1       kvstore.Store
	l2       kvstore.Store
	l1Expire time.Duration
}

var _ kvstore.Store = (*Store)(nil)

// New creates a tiered store. l1Expire caps how long entries live in L1.
func New(l1, l2 kvstore.Store, l1Expire time.Duration) *Store {
	return &Store{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2. L1 errors degrade to an L2 read.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := s.l1.Get(ctx, key)
	if err == nil && found {
		return val, true, nil
	}
	if err != nil {
		slog.WarnContext(ctx, "l1 read failed", "key", key, "error", err)
	}

	val, found, err = s.l2.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	_ = s.l1.Set(ctx, key, val, s.l1TTL(0))
	return val, true, nil
}

// Set writes to L2, then L1.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.l2.Set(ctx, key, value, ttl); err != nil {
		_ = s.l1.Delete(ctx, key)
		return err
	}
	return s.l1.Set(ctx, key, value, s.l1TTL(ttl))
}

// Delete removes from both levels.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.l1.Delete(ctx, key); err != nil {
		return err
	}
	return s.l2.Delete(ctx, key)
}

func (s *Store) l1TTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || (s.l1Expire > 0 && s.l1Expire < ttl) {
		return s.l1Expire
	}
	return ttl
}
