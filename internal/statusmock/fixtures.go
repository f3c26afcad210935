// Package statusmock is a stand-in status authority used for local runs
// and tests. Games and their credentials come from a YAML file.
package statusmock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/charleschow/game-registry/internal/telemetry"
)

// Game is one fixture entry.
type Game struct {
	Tokens []string       `yaml:"tokens"`
	State  map[string]any `yaml:"state"`
}

type Fixtures struct {
	Games map[string]Game `yaml:"games"`
}

// LoadFixtures reads a YAML fixture file.
func LoadFixtures(path string) (Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

func ParseFixtures(data []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	if f.Games == nil {
		f.Games = map[string]Game{}
	}
	return f, nil
}

// Server answers GET /api/game/{gameId} the way the real authority does:
// 404 for unknown games, 401 for a token the game does not list, 200 with
// the state otherwise.
type Server struct {
	mu       sync.RWMutex
	fixtures Fixtures
	delay    time.Duration
	hits     map[string]int
}

func NewServer(f Fixtures, delay time.Duration) *Server {
	return &Server{fixtures: f, delay: delay, hits: make(map[string]int)}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/game/{gameId}", s.handleStatus)
}

// Delete removes a game so later requests get 404.
func (s *Server) Delete(gameID string) {
	s.mu.Lock()
	delete(s.fixtures.Games, gameID)
	s.mu.Unlock()
}

// Hits reports how many requests reached gameID.
func (s *Server) Hits(gameID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hits[gameID]
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("gameId")
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	s.hits[gameID]++
	g, ok := s.fixtures.Games[gameID]
	s.mu.Unlock()

	switch {
	case !ok:
		telemetry.Debugf("statusmock: %s -> 404", gameID)
		w.WriteHeader(http.StatusNotFound)
	case !slices.Contains(g.Tokens, token):
		telemetry.Debugf("statusmock: %s -> 401", gameID)
		w.WriteHeader(http.StatusUnauthorized)
	default:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(g.State); err != nil {
			telemetry.Warnf("statusmock: encode %s: %v", gameID, err)
		}
	}
}
