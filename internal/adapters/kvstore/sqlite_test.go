package kvstore

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(path, 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "registry.db")
	slot := openTestStore(t, path).Slot("storedGames")

	v, err := slot.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, v)

	var notified atomic.Int32
	slot.Watch(func() { notified.Add(1) })

	require.NoError(t, slot.Save(ctx, []byte(`[{"gameId":"A"}]`)))
	require.NoError(t, slot.Save(ctx, []byte(`[]`)))

	v, err = slot.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(v))
	assert.Equal(t, int32(2), notified.Load())
}

func TestSQLiteStore_ObservesWritesFromAnotherStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.db")
	first := openTestStore(t, path).Slot("storedGames")
	second := openTestStore(t, path).Slot("storedGames")

	var notified atomic.Int32
	first.Watch(func() { notified.Add(1) })

	require.NoError(t, second.Save(ctx, []byte(`[{"gameId":"X"}]`)))

	require.Eventually(t, func() bool { return notified.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	v, err := first.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `[{"gameId":"X"}]`, string(v))
}

func TestSQLiteStore_OwnSaveNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	slot := openTestStore(t, filepath.Join(t.TempDir(), "registry.db")).Slot("s")

	var notified atomic.Int32
	slot.Watch(func() { notified.Add(1) })
	require.NoError(t, slot.Save(ctx, []byte("v")))

	// give the poller a few ticks; it must not report our own write again
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), notified.Load())
}
