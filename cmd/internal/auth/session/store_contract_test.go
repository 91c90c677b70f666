package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runStoreContract exercises the behavior every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("PutGetFind", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		exp := baseTime().Add(time.Hour)

		if _, err := s.Get(ctx, "acct-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get(missing): expected ErrNotFound, got %v", err)
		}

		if err := s.Put(ctx, Record{AccountID: "acct-1", RefreshHash: "h1", ExpiresAt: exp}); err != nil {
			t.Fatalf("Put: %v", err)
		}

		rec, err := s.FindByRefreshHash(ctx, "h1")
		if err != nil {
			t.Fatalf("FindByRefreshHash: %v", err)
		}
		if rec.AccountID != "acct-1" || rec.Version != 1 || !rec.ExpiresAt.Equal(exp) || rec.Used() {
			t.Fatalf("unexpected record: %+v", rec)
		}

		if _, err := s.FindByRefreshHash(ctx, ""); !errors.Is(err, ErrNotFound) {
			t.Fatalf("empty digest must not match, got %v", err)
		}
		if _, err := s.FindByRefreshHash(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("unknown digest: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutOverwritesAndDropsOldDigest", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		exp := baseTime().Add(time.Hour)

		_ = s.Put(ctx, Record{AccountID: "acct-1", RefreshHash: "h1", ExpiresAt: exp})
		if err := s.Put(ctx, Record{AccountID: "acct-1", RefreshHash: "h2", ExpiresAt: exp}); err != nil {
			t.Fatalf("Put(2): %v", err)
		}

		if _, err := s.FindByRefreshHash(ctx, "h1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("overwritten digest must not match, got %v", err)
		}
		rec, err := s.Get(ctx, "acct-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.RefreshHash != "h2" || rec.Version != 2 {
			t.Fatalf("unexpected record after overwrite: %+v", rec)
		}
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		exp := baseTime().Add(time.Hour)
		rotatedAt := baseTime().Add(time.Minute)

		_ = s.Put(ctx, Record{AccountID: "acct-1", RefreshHash: "h1", ExpiresAt: exp})

		next := Record{
			AccountID:     "acct-1",
			RefreshHash:   "h2",
			PreviousHash:  "h1",
			ExpiresAt:     exp.Add(time.Minute),
			LastRotatedAt: rotatedAt,
		}
		ok, err := s.CompareAndSwap(ctx, 1, next)
		if err != nil || !ok {
			t.Fatalf("CompareAndSwap(v1): ok=%v err=%v", ok, err)
		}

		// A second writer holding the stale version loses.
		stale := next
		stale.RefreshHash = "h3"
		ok, err = s.CompareAndSwap(ctx, 1, stale)
		if err != nil || ok {
			t.Fatalf("stale CompareAndSwap must lose: ok=%v err=%v", ok, err)
		}

		byPrev, err := s.FindByRefreshHash(ctx, "h1")
		if err != nil {
			t.Fatalf("previous digest must still resolve: %v", err)
		}
		byCur, err := s.FindByRefreshHash(ctx, "h2")
		if err != nil {
			t.Fatalf("current digest must resolve: %v", err)
		}
		if byPrev.Version != 2 || byCur.Version != 2 {
			t.Fatalf("expected version 2, got %d/%d", byPrev.Version, byCur.Version)
		}
		if byCur.PreviousHash != "h1" || !byCur.LastRotatedAt.Equal(rotatedAt) {
			t.Fatalf("unexpected record: %+v", byCur)
		}
		if _, err := s.FindByRefreshHash(ctx, "h3"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("losing digest must not be stored, got %v", err)
		}

		// Rotating again retires the oldest digest.
		ok, err = s.CompareAndSwap(ctx, 2, Record{
			AccountID:     "acct-1",
			RefreshHash:   "h4",
			PreviousHash:  "h2",
			ExpiresAt:     exp.Add(2 * time.Minute),
			LastRotatedAt: rotatedAt.Add(time.Minute),
		})
		if err != nil || !ok {
			t.Fatalf("CompareAndSwap(v2): ok=%v err=%v", ok, err)
		}
		if _, err := s.FindByRefreshHash(ctx, "h1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("digest two rotations old must not match, got %v", err)
		}
	})

	t.Run("CompareAndSwapMissingRecord", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		ok, err := s.CompareAndSwap(ctx, 1, Record{AccountID: "ghost", RefreshHash: "h", ExpiresAt: baseTime()})
		if err != nil || ok {
			t.Fatalf("swap on missing record must fail: ok=%v err=%v", ok, err)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		exp := baseTime().Add(time.Hour)

		_ = s.Put(ctx, Record{AccountID: "acct-1", RefreshHash: "h1", ExpiresAt: exp})
		_, _ = s.CompareAndSwap(ctx, 1, Record{AccountID: "acct-1", RefreshHash: "h2", PreviousHash: "h1", ExpiresAt: exp, LastRotatedAt: baseTime()})

		if err := s.Clear(ctx, "acct-1"); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		if err := s.Clear(ctx, "never-existed"); err != nil {
			t.Fatalf("Clear(missing): %v", err)
		}

		for _, d := range []string{"h1", "h2"} {
			if _, err := s.FindByRefreshHash(ctx, d); !errors.Is(err, ErrNotFound) {
				t.Fatalf("digest %s must not match after clear, got %v", d, err)
			}
		}
		rec, err := s.Get(ctx, "acct-1")
		if err != nil {
			t.Fatalf("Get after clear: %v", err)
		}
		if rec.Active() || rec.Version != 3 {
			t.Fatalf("expected inactive record at version 3, got %+v", rec)
		}
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()

	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}
