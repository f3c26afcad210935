package kvstore

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrUnavailable is returned by a MemoryStore that was marked unavailable.
var ErrUnavailable = errors.New("kvstore: store unavailable")

// MemoryStore keeps slots in process memory. Handles returned by Slot for
// the same name share one value, which is how tests model several
// execution contexts (browser tabs) over one persistent store.
type MemoryStore struct {
	mu          sync.Mutex
	values      map[string][]byte
	watch       map[string]*watchers
	unavailable bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		watch:  make(map[string]*watchers),
	}
}

// SetUnavailable makes every Load and Save fail until reset.
func (s *MemoryStore) SetUnavailable(v bool) {
	s.mu.Lock()
	s.unavailable = v
	s.mu.Unlock()
}

// Slot returns a handle on the named slot.
func (s *MemoryStore) Slot(name string) Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watch[name]; !ok {
		s.watch[name] = &watchers{}
	}
	return &memorySlot{store: s, name: name}
}

// Watchers reports how many watchers are attached to the named slot.
func (s *MemoryStore) Watchers(name string) int {
	s.mu.Lock()
	w := s.watch[name]
	s.mu.Unlock()
	if w == nil {
		return 0
	}
	return w.count()
}

type memorySlot struct {
	store *MemoryStore
	name  string
}

func (m *memorySlot) Load(_ context.Context) ([]byte, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if m.store.unavailable {
		return nil, ErrUnavailable
	}
	return slices.Clone(m.store.values[m.name]), nil
}

func (m *memorySlot) Save(_ context.Context, value []byte) error {
	m.store.mu.Lock()
	if m.store.unavailable {
		m.store.mu.Unlock()
		return ErrUnavailable
	}
	m.store.values[m.name] = slices.Clone(value)
	w := m.store.watch[m.name]
	m.store.mu.Unlock()

	w.notify()
	return nil
}

func (m *memorySlot) Watch(fn func()) func() {
	m.store.mu.Lock()
	w := m.store.watch[m.name]
	m.store.mu.Unlock()
	return w.add(fn)
}
