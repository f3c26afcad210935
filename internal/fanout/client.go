package fanout

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/game-registry/internal/core/reconcile"
	"github.com/charleschow/game-registry/internal/events"
	"github.com/charleschow/game-registry/internal/telemetry"
)

const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

// Client mirrors a registryd engine's entries over the fanout socket and
// republishes changes onto a local bus.
//
// Every connection starts from the server's snapshot, which replaces the
// mirrored view wholesale. Changes missed while disconnected are therefore
// never patched onto a stale view. Entries events reach the bus only when
// the view actually changes, so a reconnect to an unchanged engine is silent.
type Client struct {
	url string
	bus *events.Bus

	mu      sync.RWMutex
	view    []reconcile.Entry
	live    bool
	resyncs int
}

// NewClient takes a full ws:// URL, e.g. ws://127.0.0.1:8790/ws.
func NewClient(url string, bus *events.Bus) *Client {
	return &Client{
		url: url,
		bus: bus,
	}
}

// Entries returns the mirrored entries and whether they come from a live
// connection. After a disconnect the last view is kept but reported stale.
func (c *Client) Entries() ([]reconcile.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.view), c.live
}

// Resyncs returns how many snapshots replaced the view.
func (c *Client) Resyncs() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resyncs
}

// ConnectWithRetry connects to the fanout server and reconnects on failure
// with exponential backoff. Blocks until ctx is cancelled.
func (c *Client) ConnectWithRetry(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		connStart := time.Now()
		err := c.Connect(ctx)
		if ctx.Err() != nil {
			return
		}

		if time.Since(connStart) > time.Minute {
			attempt = 0
		}
		attempt++
		backoff := min(time.Duration(float64(minBackoff)*math.Pow(2, float64(min(attempt-1, 5)))), maxBackoff)

		if err != nil {
			telemetry.Warnf("fanout: connection lost (attempt %d): %v, resyncing in %s", attempt, err, backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// Connect mirrors entries until the connection drops or ctx is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()
	defer c.markStale()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	telemetry.Infof("fanout: connected to %s", c.url)

	first := true
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		evt, err := UnmarshalEvent(msg)
		if err != nil {
			telemetry.Warnf("fanout: unmarshal error: %v", err)
			continue
		}

		switch evt.Type {
		case events.EventEntriesChanged:
			entries, _ := evt.Payload.([]reconcile.Entry)
			if c.apply(entries, first) {
				c.bus.Publish(evt)
			}
		case events.EventMembershipPruned:
			c.drop(evt.GameID)
			c.bus.Publish(evt)
		}
		first = false
	}
}

// apply replaces the view and reports whether subscribers should hear
// about it. A snapshot is always announced the first time one arrives.
func (c *Client) apply(entries []reconcile.Entry, snapshot bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := !equalEntries(c.view, entries)
	if snapshot {
		changed = changed || c.resyncs == 0
		c.resyncs++
		c.live = true
		telemetry.Infof("fanout: resynced %d entries from snapshot", len(entries))
	}
	c.view = slices.Clone(entries)
	return changed
}

// drop removes a pruned game ahead of the entries event that follows it.
func (c *Client) drop(gameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = slices.DeleteFunc(slices.Clone(c.view), func(e reconcile.Entry) bool {
		return e.GameID == gameID
	})
}

func (c *Client) markStale() {
	c.mu.Lock()
	c.live = false
	c.mu.Unlock()
}

func equalEntries(a, b []reconcile.Entry) bool {
	return slices.EqualFunc(a, b, func(x, y reconcile.Entry) bool {
		return x.Membership == y.Membership && bytes.Equal(x.Status, y.Status)
	})
}
