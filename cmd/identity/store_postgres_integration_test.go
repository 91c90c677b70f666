package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stockpad/cmd/identity/ids"
	"stockpad/cmd/internal/migrations"
)

// Integration tests are enabled when STOCKPAD_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_CreateAndLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := mustNewIdentityStore(t, mustMigratedPool(t))

	id := mustNewULID(t)
	username := uniqueUsername(id)
	now := time.Now().UTC().Truncate(time.Microsecond)

	created, err := st.CreateAccount(ctx, CreateAccountInput{
		ID:           id,
		Username:     username,
		DisplayName:  "Integration",
		Email:        username + "@Example.com",
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		Now:          now,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	got, err := st.GetAccountByID(ctx, id)
	if err != nil {
		t.Fatalf("GetAccountByID: %v", err)
	}
	if got != created {
		t.Fatalf("GetAccountByID mismatch: %+v vs %+v", got, created)
	}

	auth, err := st.GetAccountAuthByUsername(ctx, strings.ToUpper(username))
	if err != nil {
		t.Fatalf("GetAccountAuthByUsername: %v", err)
	}
	if auth.ID != id || auth.PasswordHash == "" {
		t.Fatalf("unexpected auth row: %+v", auth)
	}

	if err := st.UpdatePasswordHash(ctx, id, "replaced", now.Add(time.Minute)); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	auth, err = st.GetAccountAuthByUsername(ctx, username)
	if err != nil {
		t.Fatalf("GetAccountAuthByUsername(2): %v", err)
	}
	if auth.PasswordHash != "replaced" {
		t.Fatalf("hash not updated: %q", auth.PasswordHash)
	}
}

func TestPostgresStore_Conflicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := mustNewIdentityStore(t, mustMigratedPool(t))

	first := mustNewULID(t)
	username := uniqueUsername(first)
	email := username + "@example.com"

	if _, err := st.CreateAccount(ctx, CreateAccountInput{
		ID: first, Username: username, DisplayName: "one", Email: email, PasswordHash: "h",
	}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	_, err := st.CreateAccount(ctx, CreateAccountInput{
		ID: mustNewULID(t), Username: strings.ToUpper(username), DisplayName: "two", PasswordHash: "h",
	})
	if field, ok := ConflictField(err); !ok || field != "username" {
		t.Fatalf("expected username conflict, got %v", err)
	}

	other := mustNewULID(t)
	_, err = st.CreateAccount(ctx, CreateAccountInput{
		ID: other, Username: uniqueUsername(other), DisplayName: "three", Email: strings.ToUpper(email), PasswordHash: "h",
	})
	if field, ok := ConflictField(err); !ok || field != "email" {
		t.Fatalf("expected email conflict, got %v", err)
	}

	// The failed insert must not leave a partial account behind.
	if _, err := st.GetAccountByID(ctx, other); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound for rolled-back account, got %v", err)
	}
}

func TestPostgresStore_NotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := mustNewIdentityStore(t, mustMigratedPool(t))

	missing := mustNewULID(t)
	if _, err := st.GetAccountByID(ctx, missing); !IsNotFound(err) {
		t.Fatalf("GetAccountByID: expected ErrNotFound, got %v", err)
	}
	if _, err := st.GetAccountAuthByUsername(ctx, uniqueUsername(missing)); !IsNotFound(err) {
		t.Fatalf("GetAccountAuthByUsername: expected ErrNotFound, got %v", err)
	}
	if err := st.UpdatePasswordHash(ctx, missing, "h", time.Now()); !IsNotFound(err) {
		t.Fatalf("UpdatePasswordHash: expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_ServiceRegisterAuthenticate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := mustNewIdentityStore(t, mustMigratedPool(t))
	svc, err := NewService(st, cheapPassword(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	username := uniqueUsername(mustNewULID(t))
	acct, err := svc.Register(ctx, time.Now().UTC(), RegisterInput{Username: username, Password: "correct horse battery"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := svc.Authenticate(ctx, time.Now().UTC(), username, "correct horse battery")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != acct.ID {
		t.Fatalf("id=%q want %q", got.ID, acct.ID)
	}
	if _, err := svc.Authenticate(ctx, time.Now().UTC(), username, "nope nope nope"); !IsInvalidCredentials(err) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestWithSchema_RejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	for _, schema := range []string{"", "  ", "1abc", "a-b", `x"; DROP`} {
		if _, err := NewPostgresStore(&pgxpool.Pool{}, WithSchema(schema)); err == nil {
			t.Fatalf("expected error for schema %q", schema)
		}
	}
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}

func uniqueUsername(id string) string {
	return "it_" + strings.ToLower(id[len(id)-12:])
}

func mustNewIdentityStore(t *testing.T, pool *pgxpool.Pool) *PostgresStore {
	t.Helper()
	s, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func mustNewULID(t *testing.T) string {
	t.Helper()

	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return id
}

func mustMigratedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("STOCKPAD_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: STOCKPAD_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}

	if err := migrations.Up(ctx, pool, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func shouldSkipIntegration(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
