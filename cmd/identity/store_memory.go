package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node dev runs.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]AccountAuth
	byUsername map[string]string
	byEmail    map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]AccountAuth),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"

	if in.ID == "" || in.Username == "" || in.PasswordHash == "" {
		return Account{}, invalid(op, "id, username and password hash are required")
	}

	uNorm := NormalizeUsername(in.Username)
	eNorm := NormalizeEmail(in.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[uNorm]; ok {
		return Account{}, ConflictError{Op: op, Field: "username"}
	}
	if eNorm != "" {
		if _, ok := s.byEmail[eNorm]; ok {
			return Account{}, ConflictError{Op: op, Field: "email"}
		}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	acct := Account{
		ID:          in.ID,
		Username:    in.Username,
		DisplayName: in.DisplayName,
		Email:       in.Email,
		CreatedAt:   now,
	}
	s.byID[in.ID] = AccountAuth{Account: acct, PasswordHash: in.PasswordHash}
	s.byUsername[uNorm] = in.ID
	if eNorm != "" {
		s.byEmail[eNorm] = in.ID
	}
	return acct, nil
}

func (s *MemoryStore) GetAccountByID(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return Account{}, NotFoundError{Op: "identity.GetAccountByID", Resource: "account"}
	}
	return a.Account, nil
}

func (s *MemoryStore) GetAccountAuthByUsername(_ context.Context, username string) (AccountAuth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[NormalizeUsername(username)]
	if !ok {
		return AccountAuth{}, NotFoundError{Op: "identity.GetAccountAuthByUsername", Resource: "account"}
	}
	return s.byID[id], nil
}

func (s *MemoryStore) UpdatePasswordHash(_ context.Context, id, hash string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: "identity.UpdatePasswordHash", Resource: "account"}
	}
	a.PasswordHash = hash
	s.byID[id] = a
	return nil
}
