package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stockpad/cmd/security/token"
)

// Hasher maps a refresh credential to its storage digest.
type Hasher interface {
	Hash(plain string) string
}

// AccountLookup resolves the claims sealed into a rotated access credential.
// It returns ErrNotFound when the account no longer exists.
type AccountLookup interface {
	LookupAccount(ctx context.Context, accountID string) (AccountClaims, error)
}

// Service implements the session credential lifecycle: issuance at login,
// refresh rotation with a replay window, logout and access verification.
type Service struct {
	cfg      Config
	tokens   AccessTokenManager
	hasher   Hasher
	store    Store
	accounts AccountLookup

	log      *slog.Logger
	metrics  *Metrics
	notifier Notifier
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier publishes lifecycle events after each persisted change.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	AccountID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, tokens AccessTokenManager, hasher Hasher, accounts AccountLookup, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		tokens:   tokens,
		hasher:   hasher,
		store:    store,
		accounts: accounts,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the configuration the service runs with.
func (s *Service) Config() Config { return s.cfg }

// Issue starts a session for acct, replacing any previous refresh record.
func (s *Service) Issue(ctx context.Context, now time.Time, acct AccountClaims) (Issued, error) {
	if acct.AccountID == "" {
		return Issued{}, ErrInvalidCredential
	}

	refreshPlain, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	accessToken, accessExp, err := s.tokens.Issue(acct, now)
	if err != nil {
		return Issued{}, err
	}

	refreshExp := now.Add(s.cfg.RefreshTTL)
	rec := Record{
		AccountID:   acct.AccountID,
		RefreshHash: s.hasher.Hash(refreshPlain),
		ExpiresAt:   refreshExp,
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return Issued{}, fmt.Errorf("session: put refresh record: %w", err)
	}

	s.metrics.incIssued()
	s.notify(Event{Kind: EventIssued, AccountID: acct.AccountID, At: now, AccessExp: accessExp})

	return Issued{
		AccountID:    acct.AccountID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}

// Rotate exchanges a refresh credential for a new access/refresh pair.
//
// Outcomes:
//   - ErrInvalidCredential: unknown digest, or a consumed credential
//     presented after the replay window.
//   - ErrExpired: the record is past ExpiresAt.
//   - RefreshRateLimitError (ErrUsedTooFrequently): a consumed credential
//     presented again within the replay window.
//   - ErrConflict: the compare-and-swap was lost twice.
func (s *Service) Rotate(ctx context.Context, now time.Time, presented string) (Issued, error) {
	start := time.Now()
	issued, err := s.rotate(ctx, now, presented)
	s.metrics.observeRotate(rotateResult(err), time.Since(start))
	return issued, err
}

func (s *Service) rotate(ctx context.Context, now time.Time, presented string) (Issued, error) {
	plain, ok := normalizePresented(presented)
	if !ok {
		return Issued{}, ErrInvalidCredential
	}
	digest := s.hasher.Hash(plain)

	// One retry after a lost compare-and-swap. The retry normally sees the
	// winner's record and reports the duplicate.
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := s.store.FindByRefreshHash(ctx, digest)
		if errors.Is(err, ErrNotFound) {
			return Issued{}, ErrInvalidCredential
		}
		if err != nil {
			return Issued{}, fmt.Errorf("session: find refresh record: %w", err)
		}

		if now.After(rec.ExpiresAt) {
			return Issued{}, ErrExpired
		}

		if !token.Equal(rec.RefreshHash, digest) {
			return Issued{}, s.consumed(ctx, now, rec)
		}

		issued, swapped, err := s.swap(ctx, now, rec)
		if err != nil {
			return Issued{}, err
		}
		if swapped {
			s.notify(Event{Kind: EventRotated, AccountID: rec.AccountID, At: now, AccessExp: issued.AccessExp})
			return issued, nil
		}

		s.log.Debug("session.rotate.cas_lost", "account_id", rec.AccountID, "attempt", attempt+1)
	}

	return Issued{}, ErrConflict
}

// consumed handles a digest that matches the record's previous hash.
func (s *Service) consumed(ctx context.Context, now time.Time, rec Record) error {
	if rec.Used() {
		if since := now.Sub(rec.LastRotatedAt); since < s.cfg.ReplayWindow {
			return RefreshRateLimitError{AccountID: rec.AccountID, RetryAfter: s.cfg.ReplayWindow - since}
		}
	}

	s.log.Warn("session.rotate.reuse_detected",
		"account_id", rec.AccountID,
		"last_rotated_at", rec.LastRotatedAt,
		"revoke", s.cfg.RevokeOnReuse,
	)
	s.notify(Event{Kind: EventReuseDetected, AccountID: rec.AccountID, At: now})

	if s.cfg.RevokeOnReuse {
		if err := s.store.Clear(ctx, rec.AccountID); err != nil {
			return fmt.Errorf("session: clear after reuse: %w", err)
		}
		s.metrics.incRevoked("reuse")
		s.notify(Event{Kind: EventRevoked, AccountID: rec.AccountID, At: now})
	}
	return ErrInvalidCredential
}

func (s *Service) swap(ctx context.Context, now time.Time, rec Record) (Issued, bool, error) {
	acct, err := s.accounts.LookupAccount(ctx, rec.AccountID)
	if errors.Is(err, ErrNotFound) {
		return Issued{}, false, ErrInvalidCredential
	}
	if err != nil {
		return Issued{}, false, fmt.Errorf("session: lookup account: %w", err)
	}

	refreshPlain, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, false, err
	}
	accessToken, accessExp, err := s.tokens.Issue(acct, now)
	if err != nil {
		return Issued{}, false, err
	}

	next := Record{
		AccountID:     rec.AccountID,
		RefreshHash:   s.hasher.Hash(refreshPlain),
		PreviousHash:  rec.RefreshHash,
		ExpiresAt:     now.Add(s.cfg.RefreshTTL),
		LastRotatedAt: now,
	}

	swapped, err := s.store.CompareAndSwap(ctx, rec.Version, next)
	if err != nil {
		return Issued{}, false, fmt.Errorf("session: swap refresh record: %w", err)
	}
	if !swapped {
		return Issued{}, false, nil
	}

	return Issued{
		AccountID:    rec.AccountID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   next.ExpiresAt,
	}, true, nil
}

// Revoke clears the account's refresh record (logout).
func (s *Service) Revoke(ctx context.Context, now time.Time, accountID string) error {
	if err := s.store.Clear(ctx, accountID); err != nil {
		return fmt.Errorf("session: clear refresh record: %w", err)
	}
	s.metrics.incRevoked("logout")
	s.notify(Event{Kind: EventRevoked, AccountID: accountID, At: now})
	return nil
}

// ValidateAccessToken verifies an access credential. Access credentials are
// stateless; a revoked session stops renewing but its access credential
// stays valid until it expires.
func (s *Service) ValidateAccessToken(tok string, now time.Time) (AccessClaims, error) {
	return s.tokens.Verify(tok, now)
}

func (s *Service) notify(ev Event) {
	if s.notifier != nil {
		s.notifier.Notify(ev)
	}
}

func rotateResult(err error) string {
	switch {
	case err == nil:
		return "rotated"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrUsedTooFrequently):
		return "used_too_frequently"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
