package session

import (
	"context"
	"time"
)

// Record is the single refresh record held per account.
//
// RefreshHash and PreviousHash are digests, never plaintext. A zero
// LastRotatedAt means the current credential has never been used.
type Record struct {
	AccountID     string
	RefreshHash   string
	PreviousHash  string
	ExpiresAt     time.Time
	LastRotatedAt time.Time
	Version       int64
}

// Active reports whether the record holds a usable credential digest.
func (r Record) Active() bool { return r.RefreshHash != "" }

// Used reports whether the record has been rotated at least once.
func (r Record) Used() bool { return !r.LastRotatedAt.IsZero() }

// Store abstracts persistence for refresh records.
//
// Every write increments Version. CompareAndSwap is the only write used by
// rotation; Put and Clear are reserved for issuance and logout.
type Store interface {
	// FindByRefreshHash returns the record whose current or previous digest
	// equals digest, or ErrNotFound.
	FindByRefreshHash(ctx context.Context, digest string) (Record, error)

	// Get loads the record for an account, or ErrNotFound.
	Get(ctx context.Context, accountID string) (Record, error)

	// Put overwrites the account's record (issuance).
	Put(ctx context.Context, rec Record) error

	// CompareAndSwap replaces the record only if its stored version still
	// equals expectedVersion. It reports whether the swap happened.
	CompareAndSwap(ctx context.Context, expectedVersion int64, next Record) (bool, error)

	// Clear drops the active credential for an account (logout). Idempotent.
	Clear(ctx context.Context, accountID string) error
}
