package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/OpsPilot/internal/adapter/memkv"
	"github.com/Strob0t/OpsPilot/internal/adapter/tiered"
	"github.com/Strob0t/OpsPilot/internal/port/kvstore/kvstoretest"
)

// failingStore rejects every write.
type failingStore struct{ *memkv.Store }

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("l2 down")
}

func TestCompliance(t *testing.T) {
	kvstoretest.Run(t, tiered.New(memkv.New(0), memkv.New(0), time.Minute))
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1, l2 := memkv.New(0), memkv.New(0)
	s := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	_ = l2.Set(ctx, "key2", []byte("val2"), 0)

	val, found, err := s.Get(ctx, "key2")
	if err != nil || !found || string(val) != "val2" {
		t.Fatalf("Get = %q, %v, %v", val, found, err)
	}
	if v, ok, _ := l1.Get(ctx, "key2"); !ok || string(v) != "val2" {
		t.Fatal("expected L1 backfill")
	}
}

func TestTiered_L1Hit(t *testing.T) {
	l1, l2 := memkv.New(0), memkv.New(0)
	s := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	_ = l1.Set(ctx, "key1", []byte("val1"), 0)

	val, found, err := s.Get(ctx, "key1")
	if err != nil || !found || string(val) != "val1" {
		t.Fatalf("Get = %q, %v, %v", val, found, err)
	}
}

func TestTiered_SetBoth(t *testing.T) {
	l1, l2 := memkv.New(0), memkv.New(0)
	s := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	if err := s.Set(ctx, "key3", []byte("val3"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := l1.Get(ctx, "key3"); !ok {
		t.Fatal("expected key3 in L1")
	}
	if _, ok, _ := l2.Get(ctx, "key3"); !ok {
		t.Fatal("expected key3 in L2")
	}
}

func TestTiered_L2FailureLeavesL1Clean(t *testing.T) {
	l1 := memkv.New(0)
	s := tiered.New(l1, failingStore{memkv.New(0)}, time.Minute)
	ctx := context.Background()

	_ = l1.Set(ctx, "k", []byte("stale"), 0)
	if err := s.Set(ctx, "k", []byte("new"), time.Minute); err == nil {
		t.Fatal("expected L2 error")
	}
	if _, ok, _ := l1.Get(ctx, "k"); ok {
		t.Fatal("L1 kept a value L2 rejected")
	}
}
