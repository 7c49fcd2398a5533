package channel

import (
	"context"
	"testing"
)

func TestHandlers(t *testing.T) {
	var hs Handlers
	var a, b int
	cancelA := hs.Add(func(context.Context, []byte) { a++ })
	hs.Add(func(context.Context, []byte) { b++ })

	hs.Dispatch(context.Background(), []byte("{}"))
	cancelA()
	hs.Dispatch(context.Background(), []byte("{}"))

	if a != 1 || b != 2 {
		t.Fatalf("a=%d b=%d, want 1 and 2", a, b)
	}
	if hs.Len() != 1 {
		t.Fatalf("Len = %d, want 1", hs.Len())
	}
}
