// Package v1 defines the stockpad session event stream contract.
//
// It is shared between the server gateway and clients so both sides agree on
// the wire format.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated for the stream.
const Subprotocol = "stockpad.session.v1"

// Type constants (wire-stable). All envelopes flow server -> client.
const (
	// TypeHelloAck confirms the subscription and reports the credential
	// expiry the server will enforce on the connection.
	TypeHelloAck = "hello.ack"

	// TypeSessionRotated reports that the account's refresh credential was
	// rotated, possibly by another device or tab.
	TypeSessionRotated = "session.rotated"
	// TypeSessionRevoked reports a logout or reuse-triggered revocation.
	TypeSessionRevoked = "session.revoked"
	// TypeSessionReuseDetected reports a consumed refresh credential
	// presented after the replay window.
	TypeSessionReuseDetected = "session.reuse_detected"

	// TypeError is a generic error envelope.
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}

	switch e.Type {
	case "":
		return errors.New("missing field: type")
	case TypeHelloAck,
		TypeSessionRotated,
		TypeSessionRevoked,
		TypeSessionReuseDetected,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloAckPayload is the first envelope on every connection.
type HelloAckPayload struct {
	ConnectionID    string    `json:"connection_id"`
	AccountID       string    `json:"account_id"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

// SessionEventPayload carries a session lifecycle change.
type SessionEventPayload struct {
	AccountID       string     `json:"account_id"`
	At              time.Time  `json:"at"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
