package password

import (
	"errors"
	"fmt"
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidHash      = errors.New("invalid password hash")
)

// PolicyError reports which policy rule rejected a password. Its message is
// safe to show to the person choosing the password; errors.Is matches the
// sentinel in Err.
type PolicyError struct {
	Err       error
	MinLength int
	MaxLength int
}

func (e PolicyError) Error() string {
	switch {
	case errors.Is(e.Err, ErrPasswordTooShort):
		return fmt.Sprintf("password must be at least %d characters", e.MinLength)
	case errors.Is(e.Err, ErrPasswordTooLong):
		return fmt.Sprintf("password must be at most %d characters", e.MaxLength)
	case errors.Is(e.Err, ErrWeakPassword):
		return "password is too easy to guess"
	default:
		return e.Err.Error()
	}
}

func (e PolicyError) Unwrap() error { return e.Err }
