package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope that flows through the event bus.
type Event struct {
	ID        string
	Type      EventType
	Source    string // slot or engine name that produced the event
	GameID    string // set when the event concerns a single game
	Timestamp time.Time
	Payload   any
}

type EventType string

const (
	// Persisted membership list changed (own write or another context's).
	EventRegistryChanged EventType = "registry_changed"
	// Reconciled projection changed; Payload is the new entry list.
	EventEntriesChanged EventType = "entries_changed"
	// A membership was pruned after an authoritative rejection.
	EventMembershipPruned EventType = "membership_pruned"
)

// New stamps a fresh id and timestamp on an event of the given type.
func New(t EventType, source string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
