// Package status holds the remote status variant and the shared cache of
// active game states.
package status

import "encoding/json"

// Kind tags a Result.
type Kind int

const (
	// Active: the game exists and the credential is authorized.
	Active Kind = iota + 1
	// DoesNotExist: the game was deleted or never existed.
	DoesNotExist
	// Unauthorized: the game exists but the credential no longer grants access.
	Unauthorized
)

func (k Kind) String() string {
	switch k {
	case Active:
		return "active"
	case DoesNotExist:
		return "does_not_exist"
	case Unauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// State is the opaque game snapshot owned by the remote authority.
type State = json.RawMessage

// Result is the outcome of one status fetch.
type Result struct {
	Kind  Kind
	State State // set only when Kind == Active
}

func ActiveResult(s State) Result { return Result{Kind: Active, State: s} }
func NotFoundResult() Result      { return Result{Kind: DoesNotExist} }
func UnauthorizedResult() Result  { return Result{Kind: Unauthorized} }

// Terminal reports whether the result invalidates the membership.
func (r Result) Terminal() bool {
	return r.Kind == DoesNotExist || r.Kind == Unauthorized
}
