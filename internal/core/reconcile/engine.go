// Package reconcile keeps a status-annotated view of the membership
// registry, fetching each game's status at most once per registry change
// and cancelling every outstanding fetch when the engine is closed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charleschow/game-registry/internal/core/lifecycle"
	"github.com/charleschow/game-registry/internal/core/registry"
	"github.com/charleschow/game-registry/internal/core/status"
	"github.com/charleschow/game-registry/internal/events"
	"github.com/charleschow/game-registry/internal/telemetry"
)

var (
	ErrEmptyGameID = errors.New("reconcile: empty game id")
	ErrClosed      = errors.New("reconcile: engine closed")
)

const inboxSize = 256

type Option func(*Engine)

// WithoutStatuses projects every membership with a null status and never
// calls the provider.
func WithoutStatuses() Option {
	return func(e *Engine) { e.fetchStatuses = false }
}

// WithBus publishes EventEntriesChanged and EventMembershipPruned on bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithName labels log lines and events.
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// Engine reconciles one consumer's view of the registry.
//
// All working state is owned by a single goroutine that drains the inbox;
// registry changes and fetch completions are both delivered there, so the
// fields below the marker need no locks.
type Engine struct {
	name          string
	registry      *registry.Registry
	cache         *status.Cache
	provider      StatusProvider
	scope         *lifecycle.Scope
	bus           *events.Bus
	fetchStatuses bool

	inbox       chan func()
	kick        chan struct{}
	stopped     chan struct{}
	unsubscribe func()
	closeOnce   sync.Once

	snapMu   sync.RWMutex
	snapshot []Entry

	// engine goroutine only
	entries  []Entry
	inFlight map[string]struct{}
	failed   map[string]struct{}
	refetch  map[string]struct{} // re-joined under a new credential, cache is stale
}

// NewEngine starts an engine bound to ctx. Cancelling ctx has the same
// effect as Close. The first reconciliation pass is queued immediately.
func NewEngine(ctx context.Context, reg *registry.Registry, cache *status.Cache, provider StatusProvider, opts ...Option) *Engine {
	e := &Engine{
		name:          "engine",
		registry:      reg,
		cache:         cache,
		provider:      provider,
		scope:         lifecycle.NewScope(ctx),
		fetchStatuses: true,
		inbox:         make(chan func(), inboxSize),
		kick:          make(chan struct{}, 1),
		stopped:       make(chan struct{}),
		snapshot:      []Entry{},
		entries:       []Entry{},
		inFlight:      make(map[string]struct{}),
		failed:        make(map[string]struct{}),
		refetch:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.provider == nil {
		e.fetchStatuses = false
	}

	e.unsubscribe = reg.OnChange(e.registryChanged)
	telemetry.Metrics.ActiveEngines.Inc()
	go e.run()
	e.registryChanged()
	return e
}

// run is the engine's event loop. Nothing queued after cancellation runs.
func (e *Engine) run() {
	defer func() {
		e.unsubscribe()
		telemetry.Metrics.ActiveEngines.Dec()
		close(e.stopped)
	}()

	for {
		select {
		case <-e.scope.Done():
			return
		case <-e.kick:
			if e.scope.Cancelled() {
				return
			}
			e.reconcile()
		case fn := <-e.inbox:
			if e.scope.Cancelled() {
				return
			}
			fn()
		}
	}
}

// registryChanged coalesces change notifications into one pending pass.
// It never blocks, so it is safe to trigger from the engine goroutine.
func (e *Engine) registryChanged() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// deliver hands fn to the engine goroutine, or drops it once the scope is
// cancelled.
func (e *Engine) deliver(fn func()) bool {
	select {
	case <-e.scope.Done():
		return false
	default:
	}
	select {
	case e.inbox <- fn:
		return true
	default:
		telemetry.Metrics.InboxOverflows.Inc()
	}
	select {
	case e.inbox <- fn:
		return true
	case <-e.scope.Done():
		return false
	}
}

// reconcile derives the next entry list from the registry and the cache
// and issues fetches for memberships that have no state and no fetch in
// flight.
func (e *Engine) reconcile() {
	telemetry.Metrics.Reconciles.Inc()
	current := e.registry.List()

	if !e.fetchStatuses {
		next := make([]Entry, len(current))
		for i, m := range current {
			next[i] = Entry{Membership: m}
		}
		e.entries = next
		e.publish()
		return
	}

	known := make(map[string]Entry, len(e.entries))
	for _, en := range e.entries {
		known[en.GameID] = en
	}

	live := make(map[string]struct{}, len(current))
	next := make([]Entry, 0, len(current))
	var toFetch []registry.Membership

	for _, m := range current {
		live[m.GameID] = struct{}{}
		_, busy := e.inFlight[m.GameID]

		if en, ok := known[m.GameID]; ok {
			if en.Credential != m.Credential {
				// state read under the previous credential no longer applies
				en.Status = nil
				delete(e.failed, m.GameID)
				e.refetch[m.GameID] = struct{}{}
			}
			en.Membership = m
			if _, must := e.refetch[m.GameID]; must {
				// the cache still holds the old state; only a fetch under
				// the current credential clears the mark
				if !busy {
					delete(e.failed, m.GameID)
					toFetch = append(toFetch, m)
				}
			} else if !en.Resolved() {
				_, retry := e.failed[m.GameID]
				if st, cached := e.cache.Get(m.GameID); cached {
					// another engine resolved it meanwhile
					en.Status = st
					delete(e.failed, m.GameID)
				} else if retry && !busy {
					delete(e.failed, m.GameID)
					toFetch = append(toFetch, m)
				}
			}
			next = append(next, en)
			continue
		}

		st, cached := e.cache.Get(m.GameID)
		next = append(next, Entry{Membership: m, Status: st})
		switch {
		case cached:
			telemetry.Metrics.CacheHits.Inc()
		case !busy:
			toFetch = append(toFetch, m)
		}
	}

	for id := range e.failed {
		if _, ok := live[id]; !ok {
			delete(e.failed, id)
		}
	}
	for id := range e.refetch {
		if _, ok := live[id]; !ok {
			delete(e.refetch, id)
		}
	}

	e.entries = next
	e.publish()

	for _, m := range toFetch {
		e.fetch(m)
	}
}

func (e *Engine) fetch(m registry.Membership) {
	gameID := m.GameID
	e.inFlight[gameID] = struct{}{}

	started := e.scope.Go(gameID, func(ctx context.Context) {
		start := time.Now()
		res, err := e.provider.FetchStatus(ctx, m.GameID, m.Credential)
		telemetry.Metrics.FetchLatency.Record(time.Since(start))

		cancelled := ctx.Err() != nil
		if !e.deliver(func() { e.complete(m, res, err, cancelled) }) {
			telemetry.Metrics.DiscardedResults.Inc()
			telemetry.Debugf("%s: discarded late status for %s", e.name, gameID)
		}
	})
	if !started {
		delete(e.inFlight, gameID)
		return
	}
	telemetry.Metrics.FetchesIssued.Inc()
	telemetry.Debugf("%s: fetching status for %s", e.name, gameID)
}

// complete applies one fetch outcome on the engine goroutine.
func (e *Engine) complete(m registry.Membership, res status.Result, err error, cancelled bool) {
	gameID := m.GameID
	delete(e.inFlight, gameID)

	if cancelled || e.scope.Cancelled() {
		telemetry.Metrics.DiscardedResults.Inc()
		return
	}

	if cur, ok := e.entry(gameID); ok && cur.Credential != m.Credential {
		telemetry.Metrics.DiscardedResults.Inc()
		telemetry.Debugf("%s: dropped status for %s fetched under a replaced credential", e.name, gameID)
		e.reconcile()
		return
	}

	if err != nil {
		// Stays unresolved; the next pass caused by a registry change or
		// another completion retries it.
		e.failed[gameID] = struct{}{}
		telemetry.Metrics.FetchFailures.Inc()
		telemetry.Warnf("%s: status fetch for %s failed: %v", e.name, gameID, err)
		return
	}

	switch {
	case res.Kind == status.Active:
		delete(e.refetch, gameID)
		e.cache.Put(gameID, res.State)
		e.setStatus(gameID, res.State)
		e.reconcile()
	case res.Terminal():
		// the resulting change event drops the entry on the next pass
		if !e.registry.RemoveIf(gameID, m.Credential) {
			telemetry.Debugf("%s: kept %s, membership changed since the fetch", e.name, gameID)
			return
		}
		telemetry.Metrics.Prunes.Inc()
		telemetry.Infof("%s: pruning %s (%s)", e.name, gameID, res.Kind)
		if e.bus != nil {
			evt := events.New(events.EventMembershipPruned, e.name, res.Kind.String())
			evt.GameID = gameID
			e.bus.Publish(evt)
		}
	default:
		e.failed[gameID] = struct{}{}
		telemetry.Metrics.FetchFailures.Inc()
		telemetry.Warnf("%s: status fetch for %s returned unknown kind %d", e.name, gameID, res.Kind)
	}
}

func (e *Engine) entry(gameID string) (Entry, bool) {
	for _, en := range e.entries {
		if en.GameID == gameID {
			return en, true
		}
	}
	return Entry{}, false
}

func (e *Engine) setStatus(gameID string, st status.State) {
	next := slices.Clone(e.entries)
	for i := range next {
		if next[i].GameID == gameID {
			next[i].Status = st
		}
	}
	e.entries = next
}

// publish exposes e.entries to readers when they differ from the last
// published list.
func (e *Engine) publish() {
	e.snapMu.Lock()
	if sameEntries(e.snapshot, e.entries) {
		e.snapMu.Unlock()
		return
	}
	e.snapshot = cloneEntries(e.entries)
	out := cloneEntries(e.snapshot)
	e.snapMu.Unlock()

	if e.bus != nil {
		e.bus.Publish(events.New(events.EventEntriesChanged, e.name, out))
	}
}

// Entries returns the reconciled list in registry order.
func (e *Engine) Entries() []Entry {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return cloneEntries(e.snapshot)
}

// Join records a membership. It is the only mutation callers can make.
func (e *Engine) Join(gameID, credential, playerID string) error {
	if e.scope.Cancelled() {
		return ErrClosed
	}
	if registry.NormalizeGameID(gameID) == "" {
		return ErrEmptyGameID
	}
	telemetry.Metrics.Joins.Inc()
	e.registry.Upsert(gameID, credential, playerID)
	return nil
}

// Flush waits until every event queued before the call has been applied.
// It does not wait for fetches that are still in flight.
func (e *Engine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	fn := func() {
		select {
		case <-e.kick:
			e.reconcile()
		default:
		}
		close(done)
	}

	if !e.deliverCtx(ctx, fn) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("flush: %w", ctx.Err())
	}
}

func (e *Engine) deliverCtx(ctx context.Context, fn func()) bool {
	if e.scope.Cancelled() {
		return false
	}
	select {
	case e.inbox <- fn:
		return true
	case <-e.scope.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// Pending returns the number of fetches still running.
func (e *Engine) Pending() int {
	return e.scope.Outstanding()
}

// Close cancels every outstanding fetch and stops the engine. Results that
// arrive afterwards are dropped. Close is idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.scope.Cancel()
		<-e.stopped
		telemetry.Debugf("%s: closed", e.name)
	})
}

// Wait blocks until every fetch goroutine has returned. Call after Close
// to be sure no late result is still being delivered.
func (e *Engine) Wait() {
	e.scope.Wait()
}
