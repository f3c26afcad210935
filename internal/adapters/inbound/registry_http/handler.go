package registry_http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/charleschow/game-registry/internal/core/reconcile"
	"github.com/charleschow/game-registry/internal/telemetry"
)

const maxJoinBody = 16 << 10

// Engine is the slice of *reconcile.Engine the HTTP surface needs.
type Engine interface {
	Entries() []reconcile.Entry
	Join(gameID, credential, playerID string) error
}

// JoinRequest mirrors the membership fields a client posts after joining.
type JoinRequest struct {
	GameID     string `json:"gameId"`
	Credential string `json:"userToken"`
	PlayerID   string `json:"playerId"`
}

// Handler exposes the reconciled list and the join operation.
//
// Routes:
//
//	GET  /entries -> reconciled entries, registry order
//	POST /join    -> record a membership
//	GET  /health  -> 200 OK
type Handler struct {
	engine Engine
}

func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes wires HTTP routes onto the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /entries", h.entries)
	mux.HandleFunc("POST /join", h.join)
	mux.HandleFunc("GET /health", h.healthCheck)
}

func (h *Handler) entries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Entries())
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJoinBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var req JoinRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	switch err := h.engine.Join(req.GameID, req.Credential, req.PlayerID); {
	case errors.Is(err, reconcile.ErrEmptyGameID):
		http.Error(w, "gameId is required", http.StatusBadRequest)
		return
	case errors.Is(err, reconcile.ErrClosed):
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	case err != nil:
		telemetry.Errorf("registry_http: join %s: %v", req.GameID, err)
		http.Error(w, "join failed", http.StatusInternalServerError)
		return
	}

	telemetry.Infof("registry_http: joined game %s as player %s", req.GameID, req.PlayerID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		telemetry.Warnf("registry_http: encode response: %v", err)
	}
}
