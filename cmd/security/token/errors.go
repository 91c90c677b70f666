package token

import (
	"errors"
	"fmt"
)

var (
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
)

// KeyError describes a rejected HMAC key without exposing its bytes.
type KeyError struct {
	Env      string
	MinBytes int
	GotBytes int
	Err      error
}

func (e *KeyError) Error() string {
	if errors.Is(e.Err, ErrHMACKeyTooShort) {
		return fmt.Sprintf("%s: %v (got %d bytes, need %d)", e.Env, e.Err, e.GotBytes, e.MinBytes)
	}
	return fmt.Sprintf("%s: %v", e.Env, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }
