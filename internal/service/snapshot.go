package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/OpsPilot/internal/domain"
	"github.com/Strob0t/OpsPilot/internal/domain/pipeline"
	"github.com/Strob0t/OpsPilot/internal/port/kvstore"
)

const snapshotPrefix = "pipeline:"

// SnapshotService persists pipeline records for crash recovery.
type SnapshotService struct {
	store kvstore.Store
	ttl   time.Duration
}

// NewSnapshotService creates a SnapshotService writing to store.
func NewSnapshotService(store kvstore.Store, ttl time.Duration) *SnapshotService {
	return &SnapshotService{store: store, ttl: ttl}
}

// Save writes rec under its correlation id.
func (s *SnapshotService) Save(ctx context.Context, rec *pipeline.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", rec.CorrelationID, err)
	}
	if err := s.store.Set(ctx, snapshotPrefix+rec.CorrelationID, data, s.ttl); err != nil {
		return fmt.Errorf("save snapshot %s: %w", rec.CorrelationID, err)
	}
	return nil
}

// Load reads the record of cid. A missing record yields domain.ErrNotFound.
func (s *SnapshotService) Load(ctx context.Context, cid string) (*pipeline.Record, error) {
	data, ok, err := s.store.Get(ctx, snapshotPrefix+cid)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", cid, err)
	}
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", cid, domain.ErrNotFound)
	}
	var rec pipeline.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", cid, err)
	}
	return &rec, nil
}

// Delete removes the record of cid.
func (s *SnapshotService) Delete(ctx context.Context, cid string) error {
	return s.store.Delete(ctx, snapshotPrefix+cid)
}
