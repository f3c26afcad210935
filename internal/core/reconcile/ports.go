package reconcile

import (
	"context"

	"github.com/charleschow/game-registry/internal/core/status"
)

// StatusProvider fetches the remote status of one game.
// Satisfied by *status_http.Client.
//
// Implementations must return promptly once ctx is cancelled; the engine
// discards whatever they return after that.
type StatusProvider interface {
	FetchStatus(ctx context.Context, gameID, credential string) (status.Result, error)
}
