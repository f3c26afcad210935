// Package registry is a typed view over the persisted membership slot.
// The slot is the source of truth; Registry never caches its contents.
package registry

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/charleschow/game-registry/internal/adapters/kvstore"
	"github.com/charleschow/game-registry/internal/events"
	"github.com/charleschow/game-registry/internal/telemetry"
)

const storeTimeout = 5 * time.Second

// DefaultSlotName is the slot name existing clients persist under.
const DefaultSlotName = "storedGames"

type Option func(*Registry)

// WithClock overrides the clock used to stamp JoinedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithName labels events published by this registry.
func WithName(name string) Option {
	return func(r *Registry) { r.name = name }
}

// Registry owns the ordered membership list. Operations never fail: when
// the slot is unavailable reads degrade to empty and writes are dropped
// with a warning.
type Registry struct {
	slot kvstore.Slot
	bus  *events.Bus
	now  func() time.Time
	name string

	// serializes read-modify-write cycles from this process
	writeMu sync.Mutex

	stopWatch func()
}

func New(slot kvstore.Slot, opts ...Option) *Registry {
	r := &Registry{
		slot: slot,
		bus:  events.NewBus(),
		now:  time.Now,
		name: DefaultSlotName,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.stopWatch = slot.Watch(r.changed)
	return r
}

// Close detaches from the slot. Listeners stop receiving changes.
func (r *Registry) Close() {
	r.stopWatch()
}

func (r *Registry) changed() {
	r.bus.Publish(events.New(events.EventRegistryChanged, r.name, nil))
}

// List returns the current memberships in persisted order.
// Duplicate game ids written by a foreign writer collapse to the first.
func (r *Registry) List() []Membership {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return r.load(ctx)
}

func (r *Registry) load(ctx context.Context) []Membership {
	raw, err := r.slot.Load(ctx)
	if err != nil {
		telemetry.Metrics.StoreErrors.Inc()
		telemetry.Warnf("registry %s: load failed, treating as empty: %v", r.name, err)
		return []Membership{}
	}
	if len(raw) == 0 {
		return []Membership{}
	}

	var decoded []Membership
	if err := json.Unmarshal(raw, &decoded); err != nil {
		telemetry.Metrics.StoreErrors.Inc()
		telemetry.Warnf("registry %s: malformed slot value, treating as empty: %v", r.name, err)
		return []Membership{}
	}

	out := make([]Membership, 0, len(decoded))
	seen := make(map[string]struct{}, len(decoded))
	for _, m := range decoded {
		if m.GameID == "" {
			continue
		}
		if _, dup := seen[m.GameID]; dup {
			continue
		}
		seen[m.GameID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Upsert inserts a membership or replaces the one sharing gameID in place.
// New memberships are appended.
func (r *Registry) Upsert(gameID, credential, playerID string) {
	gameID = NormalizeGameID(gameID)
	if gameID == "" {
		return
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	rec := Membership{
		GameID:     gameID,
		Credential: credential,
		PlayerID:   playerID,
		JoinedAt:   r.now().UTC().Format(time.RFC3339Nano),
	}

	list := r.load(ctx)
	if i := slices.IndexFunc(list, func(m Membership) bool { return m.GameID == gameID }); i >= 0 {
		list[i] = rec
	} else {
		list = append(list, rec)
	}
	r.save(ctx, list)
}

// Remove deletes the membership for gameID. Absent ids write nothing.
func (r *Registry) Remove(gameID string) {
	r.remove(gameID, func(Membership) bool { return true })
}

// RemoveIf deletes the membership for gameID only while it still carries
// credential, and reports whether it did. A record re-joined under another
// credential is left alone.
func (r *Registry) RemoveIf(gameID, credential string) bool {
	return r.remove(gameID, func(m Membership) bool { return m.Credential == credential })
}

func (r *Registry) remove(gameID string, match func(Membership) bool) bool {
	gameID = NormalizeGameID(gameID)
	if gameID == "" {
		return false
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	list := r.load(ctx)
	next := slices.DeleteFunc(list, func(m Membership) bool {
		return m.GameID == gameID && match(m)
	})
	if len(next) == len(list) {
		return false
	}
	r.save(ctx, next)
	return true
}

func (r *Registry) save(ctx context.Context, list []Membership) {
	data, err := json.Marshal(list)
	if err != nil {
		telemetry.Metrics.StoreErrors.Inc()
		telemetry.Errorf("registry %s: encode: %v", r.name, err)
		return
	}
	if err := r.slot.Save(ctx, data); err != nil {
		telemetry.Metrics.StoreErrors.Inc()
		telemetry.Warnf("registry %s: save failed, change not persisted: %v", r.name, err)
	}
}

// OnChange registers fn to run whenever the persisted list changes,
// whoever wrote it. The returned func unregisters fn.
func (r *Registry) OnChange(fn func()) (unsubscribe func()) {
	return r.bus.Subscribe(events.EventRegistryChanged, func(events.Event) error {
		fn()
		return nil
	})
}
