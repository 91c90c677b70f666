package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (stockpad.refresh_records).
//
// Compare-and-swap is a single UPDATE guarded by the version column, so two
// rotations for the same account serialize on the row lock and the loser
// observes zero affected rows.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed refresh record store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const selectRecordColumns = `
	account_id, refresh_hash, previous_hash,
	expires_at, last_rotated_at, version
`

// FindByRefreshHash loads the record holding digest as current or previous hash.
func (s *PostgresStore) FindByRefreshHash(ctx context.Context, digest string) (Record, error) {
	if digest == "" {
		return Record{}, ErrNotFound
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+selectRecordColumns+`
		FROM stockpad.refresh_records
		WHERE refresh_hash = $1 OR previous_hash = $1
		LIMIT 1
	`, digest)
	return scanRecord(row)
}

// Get loads the record for accountID.
func (s *PostgresStore) Get(ctx context.Context, accountID string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+selectRecordColumns+`
		FROM stockpad.refresh_records
		WHERE account_id = $1
	`, accountID)
	return scanRecord(row)
}

// Put upserts the record for rec.AccountID and bumps its version.
func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stockpad.refresh_records (
			account_id, refresh_hash, previous_hash,
			expires_at, last_rotated_at, version, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, 1, now()
		)
		ON CONFLICT (account_id) DO UPDATE SET
			refresh_hash    = EXCLUDED.refresh_hash,
			previous_hash   = EXCLUDED.previous_hash,
			expires_at      = EXCLUDED.expires_at,
			last_rotated_at = EXCLUDED.last_rotated_at,
			version         = stockpad.refresh_records.version + 1,
			updated_at      = now()
	`, rec.AccountID, nullIfEmpty(rec.RefreshHash), nullIfEmpty(rec.PreviousHash),
		rec.ExpiresAt, nullIfZero(rec.LastRotatedAt))
	return err
}

// CompareAndSwap writes next only if the stored version equals expectedVersion.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next Record) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stockpad.refresh_records
		SET
			refresh_hash    = $3,
			previous_hash   = $4,
			expires_at      = $5,
			last_rotated_at = $6,
			version         = version + 1,
			updated_at      = now()
		WHERE account_id = $1 AND version = $2
	`, next.AccountID, expectedVersion, nullIfEmpty(next.RefreshHash), nullIfEmpty(next.PreviousHash),
		next.ExpiresAt, nullIfZero(next.LastRotatedAt))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Clear drops both digests for accountID (idempotent).
func (s *PostgresStore) Clear(ctx context.Context, accountID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stockpad.refresh_records
		SET refresh_hash = NULL,
		    previous_hash = NULL,
		    version = version + 1,
		    updated_at = now()
		WHERE account_id = $1
	`, accountID)
	return err
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec          Record
		refreshHash  *string
		previousHash *string
		lastRotated  *time.Time
	)

	err := row.Scan(
		&rec.AccountID,
		&refreshHash,
		&previousHash,
		&rec.ExpiresAt,
		&lastRotated,
		&rec.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	if refreshHash != nil {
		rec.RefreshHash = *refreshHash
	}
	if previousHash != nil {
		rec.PreviousHash = *previousHash
	}
	if lastRotated != nil {
		rec.LastRotatedAt = lastRotated.UTC()
	}
	rec.ExpiresAt = rec.ExpiresAt.UTC()

	return rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
