package status

import (
	"slices"
	"sync"
)

// Cache maps game id to the last Active state seen by any engine in the
// process. Entries are only ever overwritten by a fresher fetch; nothing
// expires and nothing is purged when a membership goes away.
type Cache struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewCache() *Cache {
	return &Cache{states: make(map[string]State)}
}

// Get returns a copy of the cached state for gameID.
func (c *Cache) Get(gameID string) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.states[gameID]
	if !ok {
		return nil, false
	}
	return slices.Clone(s), true
}

// Put overwrites the state for gameID.
func (c *Cache) Put(gameID string, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[gameID] = slices.Clone(s)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.states)
}
