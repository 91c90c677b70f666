package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidToken is returned when an access credential fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidCredential is returned when a refresh credential matches no
	// active record, or matches a consumed credential outside the replay window.
	ErrInvalidCredential = errors.New("invalid refresh credential")

	// ErrExpired is returned when the refresh record is past its expiry.
	ErrExpired = errors.New("refresh credential expired")

	// ErrUsedTooFrequently is returned when a just-consumed refresh credential
	// is presented again inside the replay window.
	ErrUsedTooFrequently = errors.New("refresh credential used too frequently")

	// ErrConflict is returned when a concurrent rotation keeps winning the
	// compare-and-swap for the same account.
	ErrConflict = errors.New("refresh rotation conflict")

	// ErrNotFound is returned by stores when no record matches.
	ErrNotFound = errors.New("refresh record not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// RefreshRateLimitError carries retry metadata for a duplicate refresh.
type RefreshRateLimitError struct {
	AccountID  string
	RetryAfter time.Duration
}

func (e RefreshRateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrUsedTooFrequently.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrUsedTooFrequently.Error(), e.RetryAfter)
}

func (e RefreshRateLimitError) Unwrap() error { return ErrUsedTooFrequently }

// Terminal reports whether err means the client must sign in again.
func Terminal(err error) bool {
	return errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrUsedTooFrequently)
}
