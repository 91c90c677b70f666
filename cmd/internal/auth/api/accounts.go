package authapi

import (
	"context"

	"stockpad/cmd/identity"
	"stockpad/cmd/internal/auth/session"
)

// AccountLookup adapts the identity service to session.AccountLookup so that
// rotated access credentials carry the account's current claims.
func AccountLookup(accounts *identity.Service) session.AccountLookup {
	return accountLookup{accounts: accounts}
}

type accountLookup struct {
	accounts *identity.Service
}

func (l accountLookup) LookupAccount(ctx context.Context, accountID string) (session.AccountClaims, error) {
	a, err := l.accounts.Account(ctx, accountID)
	if identity.IsNotFound(err) {
		return session.AccountClaims{}, session.ErrNotFound
	}
	if err != nil {
		return session.AccountClaims{}, err
	}
	return toAccountClaims(a), nil
}
