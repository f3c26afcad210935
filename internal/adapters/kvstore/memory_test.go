package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SlotsShareValueAndNotify(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tabA := store.Slot("storedGames")
	tabB := store.Slot("storedGames")
	unrelated := store.Slot("other")

	v, err := tabA.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, v)

	var seenA, seenB, seenOther int
	stopA := tabA.Watch(func() { seenA++ })
	tabB.Watch(func() { seenB++ })
	unrelated.Watch(func() { seenOther++ })

	require.NoError(t, tabB.Save(ctx, []byte(`[1]`)))

	v, err = tabA.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(v))
	assert.Equal(t, 1, seenA)
	assert.Equal(t, 1, seenB)
	assert.Zero(t, seenOther)

	stopA()
	require.NoError(t, tabA.Save(ctx, []byte(`[2]`)))
	assert.Equal(t, 1, seenA)
	assert.Equal(t, 2, seenB)
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	slot := NewMemoryStore().Slot("s")
	require.NoError(t, slot.Save(ctx, []byte("abc")))

	v, _ := slot.Load(ctx)
	v[0] = 'X'
	again, _ := slot.Load(ctx)
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStore_WatcherMaySaveWithoutDeadlock(t *testing.T) {
	ctx := context.Background()
	slot := NewMemoryStore().Slot("s")

	calls := 0
	slot.Watch(func() {
		calls++
		if calls == 1 {
			require.NoError(t, slot.Save(ctx, []byte("second")))
		}
	})
	require.NoError(t, slot.Save(ctx, []byte("first")))

	v, _ := slot.Load(ctx)
	assert.Equal(t, "second", string(v))
	assert.Equal(t, 2, calls)
}

func TestMemoryStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	slot := store.Slot("s")

	store.SetUnavailable(true)
	_, err := slot.Load(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, slot.Save(ctx, []byte("x")), ErrUnavailable)
}
