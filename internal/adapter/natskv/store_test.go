package natskv_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Strob0t/OpsPilot/internal/adapter/nats"
	"github.com/Strob0t/OpsPilot/internal/adapter/natskv"
	"github.com/Strob0t/OpsPilot/internal/config"
	"github.com/Strob0t/OpsPilot/internal/port/kvstore/kvstoretest"
)

func TestCompliance(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	ctx := context.Background()
	q, err := nats.Connect(ctx, config.NATS{URL: url, Stream: "OPSPILOT_TEST"}, "opspilottest")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	kv, err := q.KeyValue(ctx, "OPSPILOT_TEST_SNAPSHOTS", time.Minute)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}
	kvstoretest.Run(t, natskv.New(kv))
}
