package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"stockpad/cmd/identity/ids"
	"stockpad/cmd/security/password"
)

// RegisterInput is a registration request as received from a client.
type RegisterInput struct {
	Username    string
	Password    string
	DisplayName string
	Email       string
}

// Service implements registration and password authentication.
type Service struct {
	store Store
	pw    password.Config
	log   *slog.Logger

	// dummyHash is verified against when the username is unknown, so a
	// missing account costs the same as a wrong password.
	dummyHash string
}

// NewService constructs a Service.
func NewService(store Store, pw password.Config, log *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: nil store")
	}
	if log == nil {
		log = slog.Default()
	}

	relaxed := pw
	relaxed.Policy.RejectVeryWeak = false
	relaxed.Policy.MinLength = 1
	dummy, err := relaxed.Hash("stockpad-timing-equalizer")
	if err != nil {
		return nil, err
	}

	return &Service{store: store, pw: pw, log: log, dummyHash: dummy}, nil
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, now time.Time, in RegisterInput) (Account, error) {
	const op = "identity.Register"

	username := strings.TrimSpace(in.Username)
	if !ValidUsername(NormalizeUsername(username)) {
		return Account{}, invalid(op, "username must be 3-32 characters of letters, digits, '_', '.', '-'")
	}

	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		display = username
	}
	if !ValidDisplayName(display) {
		return Account{}, invalid(op, "display name must be 1-64 characters")
	}

	email := strings.TrimSpace(in.Email)
	if email != "" && !ValidEmail(email) {
		return Account{}, invalid(op, "invalid email address")
	}

	hash, err := s.pw.Hash(in.Password)
	if err != nil {
		var pe password.PolicyError
		if errors.As(err, &pe) {
			return Account{}, invalid(op, pe.Error())
		}
		return Account{}, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Account{}, err
	}

	return s.store.CreateAccount(ctx, CreateAccountInput{
		ID:           id,
		Username:     username,
		DisplayName:  display,
		Email:        email,
		PasswordHash: hash,
		Now:          now,
	})
}

// Authenticate checks a username/password pair. Unknown usernames and wrong
// passwords both yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, now time.Time, username, plain string) (Account, error) {
	const op = "identity.Authenticate"

	username = strings.TrimSpace(username)
	if username == "" || plain == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	auth, err := s.store.GetAccountAuthByUsername(ctx, username)
	if err != nil {
		if IsNotFound(err) {
			_, _ = s.pw.Verify(s.dummyHash, plain)
			return Account{}, OpError{Op: op, Kind: ErrInvalidCredentials}
		}
		return Account{}, err
	}

	ok, err := s.pw.Verify(auth.PasswordHash, plain)
	if err != nil && !errors.Is(err, password.ErrInvalidHash) {
		return Account{}, err
	}
	if !ok {
		return Account{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	if s.pw.NeedsRehash(auth.PasswordHash) {
		s.rehash(ctx, now, auth.ID, plain)
	}

	return auth.Account, nil
}

// rehash upgrades a stored hash to the current parameters. Failures are logged
// and do not fail the login.
func (s *Service) rehash(ctx context.Context, now time.Time, accountID, plain string) {
	relaxed := s.pw
	relaxed.Policy = password.Policy{MinLength: 1, MaxLength: s.pw.Policy.MaxLength}
	hash, err := relaxed.Hash(plain)
	if err == nil {
		err = s.store.UpdatePasswordHash(ctx, accountID, hash, now)
	}
	if err != nil {
		s.log.Warn("identity.password.rehash.fail", "account_id", accountID, "err", err)
		return
	}
	s.log.Info("identity.password.rehash", "account_id", accountID)
}

// Account loads an account by ID.
func (s *Service) Account(ctx context.Context, id string) (Account, error) {
	if !ids.Valid(id) {
		return Account{}, NotFoundError{Op: "identity.Account", Resource: "account"}
	}
	return s.store.GetAccountByID(ctx, id)
}
