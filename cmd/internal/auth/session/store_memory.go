package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. It backs tests and single-node dev runs.
type MemoryStore struct {
	mu     sync.Mutex
	byAcct map[string]Record
	byHash map[string]string // current or previous digest -> account
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAcct: make(map[string]Record),
		byHash: make(map[string]string),
	}
}

func (s *MemoryStore) FindByRefreshHash(_ context.Context, digest string) (Record, error) {
	if digest == "" {
		return Record{}, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byHash[digest]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec, ok := s.byAcct[acct]
	if !ok || (rec.RefreshHash != digest && rec.PreviousHash != digest) {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Get(_ context.Context, accountID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byAcct[accountID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	if old, ok := s.byAcct[rec.AccountID]; ok {
		version = old.Version
	}
	s.writeLocked(rec, version+1)
	return nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, expectedVersion int64, next Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byAcct[next.AccountID]
	if !ok || old.Version != expectedVersion {
		return false, nil
	}
	s.writeLocked(next, expectedVersion+1)
	return true, nil
}

func (s *MemoryStore) Clear(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byAcct[accountID]
	if !ok {
		return nil
	}
	s.writeLocked(Record{AccountID: accountID, ExpiresAt: old.ExpiresAt}, old.Version+1)
	return nil
}

func (s *MemoryStore) writeLocked(rec Record, version int64) {
	if old, ok := s.byAcct[rec.AccountID]; ok {
		delete(s.byHash, old.RefreshHash)
		delete(s.byHash, old.PreviousHash)
	}

	rec.Version = version
	s.byAcct[rec.AccountID] = rec

	if rec.RefreshHash != "" {
		s.byHash[rec.RefreshHash] = rec.AccountID
	}
	if rec.PreviousHash != "" {
		s.byHash[rec.PreviousHash] = rec.AccountID
	}
}
