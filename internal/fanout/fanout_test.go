package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charleschow/game-registry/internal/core/reconcile"
	"github.com/charleschow/game-registry/internal/core/registry"
	"github.com/charleschow/game-registry/internal/events"
)

func entry(id, st string) reconcile.Entry {
	e := reconcile.Entry{Membership: registry.Membership{GameID: id, Credential: "t" + id}}
	if st != "" {
		e.Status = json.RawMessage(st)
	}
	return e
}

func TestUnmarshalEvent_RejectsUnknownType(t *testing.T) {
	_, err := UnmarshalEvent([]byte(`{"type":"registry_changed","payload":null}`))
	assert.Error(t, err)

	_, err = UnmarshalEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestServerClient_SnapshotThenChanges(t *testing.T) {
	serverBus := events.NewBus()
	snapshot := []reconcile.Entry{entry("A", "")}
	srv := NewServer(serverBus, func() []reconcile.Entry { return snapshot })
	defer srv.Close()

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	hs := httptest.NewServer(mux)
	defer hs.Close()

	clientBus := events.NewBus()
	var mu sync.Mutex
	var received [][]reconcile.Entry
	var pruned []string
	clientBus.Subscribe(events.EventEntriesChanged, func(evt events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, evt.Payload.([]reconcile.Entry))
		return nil
	})
	clientBus.Subscribe(events.EventMembershipPruned, func(evt events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		pruned = append(pruned, evt.GameID)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewClient("ws"+strings.TrimPrefix(hs.URL, "http")+"/ws", clientBus).Connect(ctx)
	}()

	require.Eventually(t, func() bool { return srv.Viewers() == 1 }, 2*time.Second, 5*time.Millisecond)

	serverBus.Publish(events.New(events.EventEntriesChanged, "engine", []reconcile.Entry{entry("A", `{"playerCount":2}`), entry("C", "")}))
	pe := events.New(events.EventMembershipPruned, "engine", "does_not_exist")
	pe.GameID = "B"
	serverBus.Publish(pe)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2 && len(pruned) == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Len(t, received[0], 1)
	assert.Equal(t, "A", received[0][0].GameID)
	assert.False(t, received[0][0].Resolved())
	require.Len(t, received[1], 2)
	assert.JSONEq(t, `{"playerCount":2}`, string(received[1][0].Status))
	assert.Equal(t, "C", received[1][1].GameID)
	assert.Equal(t, []string{"B"}, pruned)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClient_ReconnectResyncsFromSnapshot(t *testing.T) {
	serverBus := events.NewBus()
	var snapMu sync.Mutex
	snapshot := []reconcile.Entry{entry("A", "")}
	srv := NewServer(serverBus, func() []reconcile.Entry {
		snapMu.Lock()
		defer snapMu.Unlock()
		return snapshot
	})
	defer srv.Close()

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	hs := httptest.NewServer(mux)
	defer hs.Close()

	clientBus := events.NewBus()
	var mu sync.Mutex
	var received int
	clientBus.Subscribe(events.EventEntriesChanged, func(events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received++
		return nil
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return received
	}

	client := NewClient("ws"+strings.TrimPrefix(hs.URL, "http")+"/ws", clientBus)
	connect := func() (context.CancelFunc, chan error) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- client.Connect(ctx) }()
		return cancel, done
	}
	disconnect := func(cancel context.CancelFunc, done chan error) {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("client did not stop")
		}
		require.Eventually(t, func() bool { return srv.Viewers() == 0 }, 2*time.Second, 5*time.Millisecond)
	}

	cancel, done := connect()
	require.Eventually(t, func() bool { return client.Resyncs() == 1 && count() == 1 }, 2*time.Second, 5*time.Millisecond)

	view, live := client.Entries()
	assert.True(t, live)
	require.Len(t, view, 1)
	assert.False(t, view[0].Resolved())
	disconnect(cancel, done)

	_, live = client.Entries()
	assert.False(t, live)

	// unchanged engine: the resync is silent
	cancel, done = connect()
	require.Eventually(t, func() bool { return client.Resyncs() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, count())
	disconnect(cancel, done)

	// changes missed while disconnected arrive through the snapshot
	snapMu.Lock()
	snapshot = []reconcile.Entry{entry("A", `{"playerCount":2}`), entry("C", "")}
	snapMu.Unlock()

	cancel, done = connect()
	defer disconnect(cancel, done)
	require.Eventually(t, func() bool { return client.Resyncs() == 3 && count() == 2 }, 2*time.Second, 5*time.Millisecond)

	view, live = client.Entries()
	assert.True(t, live)
	require.Len(t, view, 2)
	assert.JSONEq(t, `{"playerCount":2}`, string(view[0].Status))

	pe := events.New(events.EventMembershipPruned, "engine", "unauthorized")
	pe.GameID = "A"
	serverBus.Publish(pe)
	require.Eventually(t, func() bool {
		view, _ := client.Entries()
		return len(view) == 1 && view[0].GameID == "C"
	}, 2*time.Second, 5*time.Millisecond)
}
