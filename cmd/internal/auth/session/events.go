package session

import "time"

// EventKind names a session lifecycle event.
type EventKind string

const (
	EventIssued        EventKind = "session.issued"
	EventRotated       EventKind = "session.rotated"
	EventRevoked       EventKind = "session.revoked"
	EventReuseDetected EventKind = "session.reuse_detected"
)

// Event is published after a session state change has been persisted.
type Event struct {
	Kind      EventKind
	AccountID string
	At        time.Time
	AccessExp time.Time
}

// Notifier receives session events. Implementations must not block.
type Notifier interface {
	Notify(ev Event)
}
