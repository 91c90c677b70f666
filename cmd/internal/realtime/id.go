package realtime

import (
	"time"

	"stockpad/cmd/identity/ids"
)

// NewConnectionID returns a ULID identifying one websocket connection.
func NewConnectionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULIDs sort by creation time, which keeps logs readable.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
