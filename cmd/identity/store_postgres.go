package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; the store never closes it. Schema
// identifiers are validated and quoted.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "stockpad").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "stockpad"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// CreateAccount inserts the account and its credential row in one transaction.
func (s *PostgresStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"

	if in.ID == "" || in.Username == "" || in.PasswordHash == "" {
		return Account{}, invalid(op, "id, username and password hash are required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var email, emailNorm *string
	if in.Email != "" {
		e, n := in.Email, NormalizeEmail(in.Email)
		email, emailNorm = &e, &n
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Account{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.table("accounts")+` (
		     id, username, username_norm, display_name, email, email_norm, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.ID, in.Username, NormalizeUsername(in.Username), in.DisplayName, email, emailNorm, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.table("account_credentials")+` (account_id, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)`,
		in.ID, in.PasswordHash, now,
	)
	if err != nil {
		return Account{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, err
	}

	return Account{
		ID:          in.ID,
		Username:    in.Username,
		DisplayName: in.DisplayName,
		Email:       in.Email,
		CreatedAt:   now,
	}, nil
}

// GetAccountByID loads an account.
func (s *PostgresStore) GetAccountByID(ctx context.Context, id string) (Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, email, created_at
		   FROM `+s.table("accounts")+`
		  WHERE id = $1`,
		id,
	)

	var (
		a     Account
		email *string
	)
	if err := row.Scan(&a.ID, &a.Username, &a.DisplayName, &email, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: "identity.GetAccountByID", Resource: "account"}
		}
		return Account{}, err
	}
	if email != nil {
		a.Email = *email
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

// GetAccountAuthByUsername loads an account and its password hash.
func (s *PostgresStore) GetAccountAuthByUsername(ctx context.Context, username string) (AccountAuth, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT a.id, a.username, a.display_name, a.email, a.created_at, c.password_hash
		   FROM `+s.table("accounts")+` a
		   JOIN `+s.table("account_credentials")+` c ON c.account_id = a.id
		  WHERE a.username_norm = $1`,
		NormalizeUsername(username),
	)

	var (
		out   AccountAuth
		email *string
	)
	err := row.Scan(&out.ID, &out.Username, &out.DisplayName, &email, &out.CreatedAt, &out.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountAuth{}, NotFoundError{Op: "identity.GetAccountAuthByUsername", Resource: "account"}
		}
		return AccountAuth{}, err
	}
	if email != nil {
		out.Email = *email
	}
	out.CreatedAt = out.CreatedAt.UTC()
	return out, nil
}

// UpdatePasswordHash replaces the stored password hash.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("account_credentials")+`
		    SET password_hash = $2, updated_at = $3
		  WHERE account_id = $1`,
		id, hash, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: "identity.UpdatePasswordHash", Resource: "account"}
	}
	return nil
}

// table safely quotes a schema-qualified identifier: "schema"."name".
func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_accounts_username_norm", strings.Contains(c, "username"):
		return "username", true
	case c == "uq_accounts_email_norm", strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
