package fanout

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/game-registry/internal/core/reconcile"
	"github.com/charleschow/game-registry/internal/events"
	"github.com/charleschow/game-registry/internal/telemetry"
)

const (
	clientSendBuf = 64
	writeDeadline = 5 * time.Second
	pongWait      = 30 * time.Second
	pingInterval  = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Snapshot returns the entries a newly connected viewer starts from.
// Satisfied by (*reconcile.Engine).Entries.
type Snapshot func() []reconcile.Entry

type viewer struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Server pushes reconciled entries to read-only WebSocket viewers.
type Server struct {
	snapshot Snapshot

	mu      sync.Mutex
	viewers map[*viewer]struct{}

	unsubscribe []func()
}

func NewServer(bus *events.Bus, snapshot Snapshot) *Server {
	s := &Server{
		snapshot: snapshot,
		viewers:  make(map[*viewer]struct{}),
	}
	s.unsubscribe = append(s.unsubscribe,
		bus.Subscribe(events.EventEntriesChanged, s.forward),
		bus.Subscribe(events.EventMembershipPruned, s.forward),
	)
	return s
}

// Close detaches from the bus and disconnects every viewer.
func (s *Server) Close() {
	for _, u := range s.unsubscribe {
		u()
	}
	s.mu.Lock()
	for v := range s.viewers {
		v.conn.Close()
	}
	s.mu.Unlock()
}

// forward is called on the publisher's goroutine. It serializes the event
// and enqueues it to every viewer's send channel (non-blocking).
func (s *Server) forward(evt events.Event) error {
	data, err := MarshalEvent(evt)
	if err != nil {
		telemetry.Warnf("fanout: marshal error: %v", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for v := range s.viewers {
		select {
		case v.send <- data:
		default:
			telemetry.Warnf("fanout: dropping %s for slow viewer", evt.Type)
		}
	}
	return nil
}

// HandleWS is the HTTP handler for WebSocket upgrade requests.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warnf("fanout: upgrade failed: %v", err)
		return
	}

	v := &viewer{
		conn: conn,
		send: make(chan []byte, clientSendBuf),
		done: make(chan struct{}),
	}

	// snapshot and registration happen under one lock so no change
	// published in between is lost or reordered
	s.mu.Lock()
	if s.snapshot != nil {
		data, err := MarshalEvent(events.New(events.EventEntriesChanged, "snapshot", s.snapshot()))
		if err == nil {
			v.send <- data
		}
	}
	s.viewers[v] = struct{}{}
	n := len(s.viewers)
	s.mu.Unlock()
	telemetry.Metrics.FanoutClients.Set(int64(n))

	telemetry.Infof("fanout: viewer connected from %s", r.RemoteAddr)

	go s.writePump(v)
	go s.readPump(v)
}

// writePump drains the viewer's send channel and writes to the WS connection.
// It owns the viewer lifecycle: on exit it removes the viewer from the map
// (so forward never sends to a stale channel) and closes the connection.
func (s *Server) writePump(v *viewer) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.removeViewer(v)
		v.conn.Close()
	}()

	for {
		select {
		case msg := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				telemetry.Warnf("fanout: write error: %v", err)
				return
			}
		case <-v.done:
			return
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection alive by reading pongs / close frames.
// Viewers are read-only; anything they send is ignored.
func (s *Server) readPump(v *viewer) {
	defer close(v.done)

	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) removeViewer(v *viewer) {
	s.mu.Lock()
	delete(s.viewers, v)
	n := len(s.viewers)
	s.mu.Unlock()
	telemetry.Metrics.FanoutClients.Set(int64(n))
	telemetry.Infof("fanout: viewer disconnected")
}

// Viewers returns the number of connected viewers.
func (s *Server) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// RegisterRoutes wires the WebSocket endpoint onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.HandleWS)
}
