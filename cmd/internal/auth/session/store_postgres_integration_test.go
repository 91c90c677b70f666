package session

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
	"github.com/oklog/ulid/v2"

	"stockpad/cmd/internal/migrations"
)

// Integration tests are enabled when STOCKPAD_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

const contractAccountID = "acct-1"

func TestPostgresStore_Contract(t *testing.T) {
	pool := mustMigratedPool(t)

	runStoreContract(t, func(t *testing.T) Store {
		t.Helper()
		mustSeedAccount(t, pool, contractAccountID)
		mustExec(t, pool, `DELETE FROM stockpad.refresh_records WHERE account_id = $1`, contractAccountID)
		return NewPostgresStore(pool)
	})
}

func TestPostgresStore_ServiceRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := mustMigratedPool(t)

	acct := testAccount
	acct.AccountID = ulid.Make().String()
	mustSeedAccount(t, pool, acct.AccountID)

	cfg := testConfig()
	tokens, err := NewHS256Manager(cfg)
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}
	svc := NewService(cfg, NewPostgresStore(pool), tokens, testHasher(), newStaticAccounts(acct))

	// Postgres keeps microseconds.
	now := time.Now().UTC().Truncate(time.Microsecond)

	issued, err := svc.Issue(ctx, now, acct)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rotated, err := svc.Rotate(ctx, now.Add(time.Minute), issued.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.RefreshToken == issued.RefreshToken {
		t.Fatalf("rotation must mint a new refresh credential")
	}

	var rl RefreshRateLimitError
	_, err = svc.Rotate(ctx, now.Add(time.Minute+2*time.Second), issued.RefreshToken)
	if !errors.As(err, &rl) || rl.AccountID != acct.AccountID {
		t.Fatalf("expected RefreshRateLimitError, got %v", err)
	}

	if err := svc.Revoke(ctx, now.Add(2*time.Minute), acct.AccountID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Rotate(ctx, now.Add(3*time.Minute), rotated.RefreshToken); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential after revoke, got %v", err)
	}
}

func TestPostgresStore_ConcurrentSwapSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pool := mustMigratedPool(t)

	id := ulid.Make().String()
	mustSeedAccount(t, pool, id)

	store := NewPostgresStore(pool)
	exp := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	if err := store.Put(ctx, Record{AccountID: id, RefreshHash: "it-" + id, ExpiresAt: exp}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const writers = 8
	wins := make(chan bool, writers)
	errs := make(chan error, writers)
	for i := range writers {
		go func(i int) {
			ok, err := store.CompareAndSwap(ctx, 1, Record{
				AccountID:    id,
				RefreshHash:  "it-" + id + "-" + string(rune('a'+i)),
				PreviousHash: "it-" + id,
				ExpiresAt:    exp,
			})
			errs <- err
			wins <- ok
		}(i)
	}

	won := 0
	for range writers {
		if err := <-errs; err != nil {
			t.Fatalf("CompareAndSwap: %v", err)
		}
		if <-wins {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func mustMigratedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := migrations.Up(ctx, pool, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("STOCKPAD_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: STOCKPAD_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}
	return pool
}

// mustSeedAccount inserts a bare account row for the refresh_records FK.
func mustSeedAccount(t *testing.T, pool *pgxpool.Pool, id string) {
	t.Helper()

	username := "it_" + strings.ToLower(id)
	mustExec(t, pool, `
		INSERT INTO stockpad.accounts (id, username, username_norm, display_name)
		VALUES ($1, $2, $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, username)
}

func mustExec(t *testing.T, pool *pgxpool.Pool, sql string, args ...any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, sql, args...); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
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
