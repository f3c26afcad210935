// Package lifecycle groups in-flight operations under one cancellation
// scope so a single teardown cancels all of them.
package lifecycle

import (
	"context"
	"sync"

	"github.com/charleschow/game-registry/internal/telemetry"
)

type handle struct {
	key    string
	cancel context.CancelFunc
}

// Scope owns the outstanding operations of one engine instance.
// A cancelled scope stays cancelled; callers create a new one instead.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	cancelled   bool
	nextID      uint64
	outstanding map[uint64]*handle
	wg          sync.WaitGroup
}

func NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	s := &Scope{
		ctx:         ctx,
		cancel:      cancel,
		outstanding: make(map[uint64]*handle),
	}
	// a cancelled parent tears the scope down like an explicit Cancel
	context.AfterFunc(ctx, func() { s.Cancel() })
	return s
}

// Go runs fn on its own goroutine with a context bound to the scope.
// It returns false, without running fn, once the scope is cancelled.
// The handle is released when fn returns.
func (s *Scope) Go(key string, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.nextID++
	id := s.nextID
	s.outstanding[id] = &handle{key: key, cancel: cancel}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.release(id)
		fn(ctx)
	}()
	return true
}

func (s *Scope) release(id uint64) {
	s.mu.Lock()
	h, ok := s.outstanding[id]
	delete(s.outstanding, id)
	s.mu.Unlock()
	if ok {
		h.cancel()
	}
}

// Cancel cancels every outstanding operation exactly once. Only the first
// call does anything; it reports whether this call was that one.
func (s *Scope) Cancel() bool {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return false
	}
	s.cancelled = true
	pending := s.outstanding
	s.outstanding = make(map[uint64]*handle)
	s.mu.Unlock()

	for _, h := range pending {
		h.cancel()
		telemetry.Metrics.FetchesCancelled.Inc()
		telemetry.Debugf("lifecycle: cancelled %s", h.key)
	}
	s.cancel()
	return true
}

// Cancelled reports whether the scope was cancelled, directly or through
// its parent context.
func (s *Scope) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled || s.ctx.Err() != nil
}

// Done is closed once the scope is cancelled.
func (s *Scope) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Outstanding returns how many operations are neither finished nor cancelled.
func (s *Scope) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outstanding)
}

// Wait blocks until every goroutine started by Go has returned.
func (s *Scope) Wait() {
	s.wg.Wait()
}
