package reconcile

import (
	"bytes"
	"slices"

	"github.com/charleschow/game-registry/internal/core/registry"
	"github.com/charleschow/game-registry/internal/core/status"
)

// Entry joins a membership with its last known state. A nil Status means
// the status is not resolved yet and encodes as JSON null.
type Entry struct {
	registry.Membership
	Status status.State `json:"status"`
}

// Resolved reports whether the entry carries a state.
func (e Entry) Resolved() bool { return e.Status != nil }

func (e Entry) clone() Entry {
	if e.Status != nil {
		e.Status = slices.Clone(e.Status)
	}
	return e
}

func cloneEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = e.clone()
	}
	return out
}

func sameEntries(a, b []Entry) bool {
	return slices.EqualFunc(a, b, func(x, y Entry) bool {
		return x.Membership == y.Membership &&
			(x.Status == nil) == (y.Status == nil) &&
			bytes.Equal(x.Status, y.Status)
	})
}
