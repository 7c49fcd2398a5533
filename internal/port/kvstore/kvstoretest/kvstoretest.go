// Package kvstoretest provides a compliance suite for kvstore.Store implementations.
package kvstoretest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/Strob0t/OpsPilot/internal/port/kvstore"
)

// Run exercises the behavior every Store must provide. Keys are prefixed
// with the test name so suites can share a live backend.
func Run(t *testing.T, s kvstore.Store) {
	t.Helper()
	ctx := context.Background()
	key := func(k string) string { return "compliance." + k }

	t.Run("SetAndGet", func(t *testing.T) {
		if err := s.Set(ctx, key("a"), []byte("value-a"), time.Minute); err != nil {
			t.Fatal(err)
		}
		got, ok, err := s.Get(ctx, key("a"))
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("expected hit after Set")
		}
		if !bytes.Equal(got, []byte("value-a")) {
			t.Fatalf("got %q, want value-a", got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = s.Set(ctx, key("b"), []byte("one"), time.Minute)
		if err := s.Set(ctx, key("b"), []byte("two"), time.Minute); err != nil {
			t.Fatal(err)
		}
		got, _, err := s.Get(ctx, key("b"))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "two" {
			t.Fatalf("got %q, want two", got)
		}
	})

	t.Run("Miss", func(t *testing.T) {
		_, ok, err := s.Get(ctx, key("missing"))
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("expected miss")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = s.Set(ctx, key("c"), []byte("gone"), time.Minute)
		if err := s.Delete(ctx, key("c")); err != nil {
			t.Fatal(err)
		}
		if _, ok, _ := s.Get(ctx, key("c")); ok {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := s.Delete(ctx, key("never-set")); err != nil {
			t.Fatalf("Delete of missing key: %v", err)
		}
	})
}
