package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("service unavailable")

func fail() error    { return errTest }
func succeed() error { return nil }

func trip(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Execute(fail)
	}
}

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
	if got := b.State(); got != "closed" {
		t.Fatalf("State() = %q, want closed", got)
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)
	trip(b, 3)

	err := b.Execute(succeed)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if got := b.State(); got != "open" {
		t.Fatalf("State() = %q, want open", got)
	}
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }
	trip(b, 2)

	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen before timeout, got %v", err)
	}

	now = now.Add(2 * time.Second)
	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("expected probe to run, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called in half-open")
	}
	if got := b.State(); got != "closed" {
		t.Fatalf("State() = %q, want closed after probe success", got)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }
	trip(b, 2)

	now = now.Add(2 * time.Second)
	_ = b.Execute(fail)

	if got := b.State(); got != "open" {
		t.Fatalf("State() = %q, want open after probe failure", got)
	}
	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }
	trip(b, 1)
	now = now.Add(2 * time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe

	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("concurrent call during probe: got %v, want ErrCircuitOpen", err)
	}
	if got := b.State(); got != "half-open" {
		t.Fatalf("State() = %q, want half-open", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe returned %v", err)
	}
	if err := b.Execute(succeed); err != nil {
		t.Fatalf("after probe success: got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Second)
	trip(b, 2)
	_ = b.Execute(succeed)
	trip(b, 2)

	if err := b.Execute(succeed); err != nil {
		t.Fatalf("expected closed breaker, got %v", err)
	}
}

func TestPermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker(2, time.Second)
	bad := errors.New("status 404")
	for i := 0; i < 5; i++ {
		err := b.Execute(func() error { return Permanent(bad) })
		if !errors.Is(err, bad) {
			t.Fatalf("call %d: got %v, want wrapped %v", i, err, bad)
		}
		if !IsPermanent(err) {
			t.Fatalf("call %d: IsPermanent = false", i)
		}
	}
	if got := b.State(); got != "closed" {
		t.Fatalf("State() = %q, want closed", got)
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}

func TestCallerCancellationDoesNotTrip(t *testing.T) {
	b := NewBreaker(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if got := b.State(); got != "closed" {
		t.Fatalf("State() = %q, want closed", got)
	}

	err = b.Call(context.Background(), func(context.Context) error { return errTest })
	if !errors.Is(err, errTest) {
		t.Fatalf("got %v, want errTest", err)
	}
	if got := b.State(); got != "open" {
		t.Fatalf("State() = %q, want open", got)
	}
}
