package channel

import (
	"context"
	"sync"
)

// Handlers is a registry of inbound handlers for Channel implementations.
// The zero value is ready to use.
type Handlers struct {
	mu   sync.RWMutex
	next int
	m    map[int]Handler
}

// Add registers h and returns a function removing it.
func (hs *Handlers) Add(h Handler) func() {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.m == nil {
		hs.m = make(map[int]Handler)
	}
	id := hs.next
	hs.next++
	hs.m[id] = h
	return func() {
		hs.mu.Lock()
		delete(hs.m, id)
		hs.mu.Unlock()
	}
}

// Dispatch calls every registered handler with data.
func (hs *Handlers) Dispatch(ctx context.Context, data []byte) {
	hs.mu.RLock()
	list := make([]Handler, 0, len(hs.m))
	for _, h := range hs.m {
		list = append(list, h)
	}
	hs.mu.RUnlock()
	for _, h := range list {
		h(ctx, data)
	}
}

// Len returns the number of registered handlers.
func (hs *Handlers) Len() int {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return len(hs.m)
}
