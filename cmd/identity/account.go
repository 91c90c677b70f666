package identity

import (
	"context"
	"time"
)

// Account is stockpad's security principal.
type Account struct {
	ID          string
	Username    string
	DisplayName string
	Email       string // empty when not provided
	CreatedAt   time.Time
}

// AccountAuth is an Account plus its stored password hash.
type AccountAuth struct {
	Account
	PasswordHash string
}

// CreateAccountInput is what a Store persists on registration.
// Username and Email are expected to be trimmed; the store normalizes them
// for uniqueness.
type CreateAccountInput struct {
	ID           string
	Username     string
	DisplayName  string
	Email        string
	PasswordHash string
	Now          time.Time
}

// Store is the account persistence boundary.
type Store interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)
	GetAccountByID(ctx context.Context, id string) (Account, error)
	GetAccountAuthByUsername(ctx context.Context, username string) (AccountAuth, error)
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
}
