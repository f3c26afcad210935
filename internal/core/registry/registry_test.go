package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charleschow/game-registry/internal/adapters/kvstore"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, *kvstore.MemoryStore) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	r := New(store.Slot(DefaultSlotName), WithClock(func() time.Time { return testNow }))
	t.Cleanup(r.Close)
	return r, store
}

func ids(list []Membership) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.GameID
	}
	return out
}

func TestRegistry_UpsertAppendsAndReplacesInPlace(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Upsert("A", "ta", "p1")
	r.Upsert("B", "tb", "p2")
	r.Upsert("C", "tc", "p3")
	r.Upsert("B", "tb2", "p9")

	list := r.List()
	require.Equal(t, []string{"A", "B", "C"}, ids(list))
	assert.Equal(t, Membership{GameID: "B", Credential: "tb2", PlayerID: "p9", JoinedAt: "2026-03-01T12:00:00Z"}, list[1])
	assert.Equal(t, testNow, list[1].JoinedTime())
}

func TestRegistry_UpsertNormalizesGameID(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Upsert("  A1 ", "t", "p")
	r.Upsert("A1", "t2", "p")
	r.Upsert("   ", "t", "p")

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "A1", list[0].GameID)
	assert.Equal(t, "t2", list[0].Credential)
}

func TestRegistry_Remove(t *testing.T) {
	r, store := newTestRegistry(t)
	r.Upsert("A", "ta", "p1")
	r.Upsert("B", "tb", "p1")

	var changes atomic.Int32
	unsubscribe := r.OnChange(func() { changes.Add(1) })
	defer unsubscribe()

	r.Remove("missing")
	assert.Zero(t, changes.Load(), "removing an absent id must not write")

	r.Remove("A")
	assert.Equal(t, []string{"B"}, ids(r.List()))
	assert.Equal(t, int32(1), changes.Load())
	assert.Equal(t, 1, store.Watchers(DefaultSlotName))
}

func TestRegistry_RemoveNormalizesGameID(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Upsert("A", "ta", "p1")

	r.Remove(" A ")
	assert.Empty(t, r.List())
}

func TestRegistry_RemoveIfMatchesCredential(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Upsert("A", "old-token", "p1")
	r.Upsert("A", "new-token", "p1")

	var changes atomic.Int32
	unsubscribe := r.OnChange(func() { changes.Add(1) })
	defer unsubscribe()

	assert.False(t, r.RemoveIf("A", "old-token"))
	assert.Zero(t, changes.Load())
	require.Len(t, r.List(), 1)
	assert.Equal(t, "new-token", r.List()[0].Credential)

	assert.True(t, r.RemoveIf("A", "new-token"))
	assert.Empty(t, r.List())
	assert.False(t, r.RemoveIf("A", "new-token"))
}

func TestRegistry_OnChangeSeesOtherContexts(t *testing.T) {
	r, store := newTestRegistry(t)
	other := New(store.Slot(DefaultSlotName))
	defer other.Close()

	var changes atomic.Int32
	unsubscribe := r.OnChange(func() { changes.Add(1) })

	other.Upsert("X", "tx", "p1")
	assert.Equal(t, int32(1), changes.Load())
	assert.Equal(t, []string{"X"}, ids(r.List()))

	unsubscribe()
	other.Remove("X")
	assert.Equal(t, int32(1), changes.Load())
	assert.Empty(t, r.List())
}

func TestRegistry_ListDegradesGracefully(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{name: "never written", value: "", want: []string{}},
		{name: "malformed", value: `{"not":"a list"`, want: []string{}},
		{name: "duplicates keep first", value: `[{"gameId":"A","userToken":"1"},{"gameId":"B"},{"gameId":"A","userToken":"2"}]`, want: []string{"A", "B"}},
		{name: "blank ids dropped", value: `[{"gameId":""},{"gameId":"C"}]`, want: []string{"C"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := kvstore.NewMemoryStore()
			slot := store.Slot(DefaultSlotName)
			if tt.value != "" {
				require.NoError(t, slot.Save(context.Background(), []byte(tt.value)))
			}
			r := New(slot)
			defer r.Close()

			assert.Equal(t, tt.want, ids(r.List()))
		})
	}
}

func TestRegistry_DuplicatesKeepFirstCredential(t *testing.T) {
	store := kvstore.NewMemoryStore()
	slot := store.Slot(DefaultSlotName)
	require.NoError(t, slot.Save(context.Background(),
		[]byte(`[{"gameId":"A","userToken":"1"},{"gameId":"A","userToken":"2"}]`)))
	r := New(slot)
	defer r.Close()

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "1", list[0].Credential)
}

func TestRegistry_UnavailableStoreDoesNotPanic(t *testing.T) {
	r, store := newTestRegistry(t)
	r.Upsert("A", "ta", "p1")

	store.SetUnavailable(true)
	assert.Empty(t, r.List())
	r.Upsert("B", "tb", "p1")
	r.Remove("A")

	store.SetUnavailable(false)
	assert.Equal(t, []string{"A"}, ids(r.List()), "writes while unavailable are not saved")
}
