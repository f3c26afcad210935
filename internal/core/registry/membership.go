package registry

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Membership records that this device joined a game under a credential.
// JSON names match the slot layout older clients already wrote.
type Membership struct {
	GameID     string `json:"gameId"`
	Credential string `json:"userToken"`
	PlayerID   string `json:"playerId"`
	JoinedAt   string `json:"time"` // RFC3339, informational only
}

// JoinedTime parses JoinedAt, returning the zero time when it is unset or malformed.
func (m Membership) JoinedTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.JoinedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// NormalizeGameID trims whitespace and applies NFC so ids pasted from
// different sources compare equal.
func NormalizeGameID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}
