package sessionclient

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionExpired is terminal: the refresh credential is no longer
	// accepted and the user must sign in again.
	ErrSessionExpired = errors.New("sessionclient: session expired")

	// ErrNetworkFailure covers transport errors and rotation timeouts.
	ErrNetworkFailure = errors.New("sessionclient: network failure")

	// ErrConflict is returned when the backend lost the record update race twice.
	ErrConflict = errors.New("sessionclient: renewal conflict")

	// ErrNoCredential means no session has been established.
	ErrNoCredential = errors.New("sessionclient: no credential")

	// ErrUnauthorized is returned for rejected sign-in attempts and bearer checks.
	ErrUnauthorized = errors.New("sessionclient: unauthorized")

	// ErrConfig reports an unusable client configuration.
	ErrConfig = errors.New("sessionclient: invalid config")
)

// Server error codes.
const (
	CodeInvalidCredential  = "invalid_credential"
	CodeExpired            = "expired"
	CodeUsedTooFrequently  = "used_too_frequently"
	CodeConflict           = "conflict"
	CodeUnauthorized       = "unauthorized"
	CodeInvalidCredentials = "invalid_credentials"
)

// ServerError is a non-2xx response decoded from the backend's error body.
type ServerError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sessionclient: server returned %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("sessionclient: server returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the server code onto the package sentinels.
func (e *ServerError) Unwrap() error {
	switch e.Code {
	case CodeInvalidCredential, CodeExpired, CodeUsedTooFrequently:
		return ErrSessionExpired
	case CodeConflict:
		return ErrConflict
	case CodeUnauthorized, CodeInvalidCredentials:
		return ErrUnauthorized
	default:
		return nil
	}
}

// Terminal reports whether err means the session cannot be renewed.
func Terminal(err error) bool {
	return errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrNoCredential)
}

// wrapNetwork marks transport errors. Errors already classified by this
// package (for example from Transport's renewal) pass through unchanged.
func wrapNetwork(err error) error {
	switch {
	case errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrNoCredential),
		errors.Is(err, ErrNetworkFailure),
		errors.Is(err, ErrConflict):
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetworkFailure, err)
}
