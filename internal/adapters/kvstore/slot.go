// Package kvstore provides named key-value slots with change notification.
// A slot holds one opaque value (the registry keeps a JSON array in it).
// Every Save notifies the slot's watchers, including saves made through
// another handle or, for the SQLite store, another process sharing the file.
package kvstore

import (
	"context"
	"sync"
)

// Slot is a single named value with get/set/subscribe semantics.
type Slot interface {
	// Load returns the current value, or nil when the slot was never written.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the value and notifies watchers.
	Save(ctx context.Context, value []byte) error
	// Watch registers fn to run after every change and returns a func
	// that stops further calls.
	Watch(fn func()) (cancel func())
}

// watchers is the per-slot listener set shared by both store kinds.
type watchers struct {
	mu     sync.Mutex
	nextID uint64
	fns    map[uint64]func()
}

func (w *watchers) add(fn func()) func() {
	w.mu.Lock()
	if w.fns == nil {
		w.fns = make(map[uint64]func())
	}
	w.nextID++
	id := w.nextID
	w.fns[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.fns, id)
		w.mu.Unlock()
	}
}

// notify calls every watcher outside the lock so a watcher may itself
// Save or unsubscribe without deadlocking.
func (w *watchers) notify() {
	w.mu.Lock()
	fns := make([]func(), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (w *watchers) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.fns)
}
