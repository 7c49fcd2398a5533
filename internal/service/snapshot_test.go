package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/OpsPilot/internal/adapter/memkv"
	"github.com/Strob0t/OpsPilot/internal/domain"
	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/execution"
	"github.com/Strob0t/OpsPilot/internal/domain/phase"
	"github.com/Strob0t/OpsPilot/internal/domain/pipeline"
	"github.com/Strob0t/OpsPilot/internal/domain/preflight"
)

func TestSnapshotService_RoundTrip(t *testing.T) {
	store := memkv.New(0)
	svc := NewSnapshotService(store, time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	run := execution.NewRun("run-1", "c1", 20, now)
	run.Output.Push("line 1")
	rec := &pipeline.Record{
		CorrelationID:  "c1",
		ConversationID: "conv",
		Phase:          phase.State{Phase: phase.Working},
		Decision:       actionWith(preflight.Spec{Kind: preflight.KindMinDisk, Params: map[string]any{"need_gb": 1}}),
		Run:            run,
		Awaiting:       pipeline.AwaitNothing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := svc.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Get(ctx, "pipeline:c1"); !ok {
		t.Fatal("record not stored under pipeline:c1")
	}

	got, err := svc.Load(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase.Phase != phase.Working || got.Decision.Mode != decision.ModeConfirmedAction {
		t.Fatalf("loaded = %+v", got)
	}
	if lines := got.Run.Output.Lines(); len(lines) != 1 || lines[0] != "line 1" {
		t.Fatalf("run output = %v", lines)
	}
	if !got.Resumable() {
		t.Fatal("mid-execution record should be resumable")
	}

	_ = svc.Delete(ctx, "c1")
	if _, err := svc.Load(ctx, "c1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
