package app

import (
	"errors"
	"fmt"

	"stockpad/cmd/security/token"
)

// ValidateSecurityConfig enforces stockpad's security policy at startup.
//
// Misconfiguration fails the process instead of degrading to weaker crypto.
func ValidateSecurityConfig(cfg Config, hasher token.Hasher) error {
	switch cfg.SessionStore {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("security policy: STOCKPAD_SESSION_STORE=postgres requires STOCKPAD_DATABASE_URL")
		}
	default:
		return fmt.Errorf("security policy: unknown STOCKPAD_SESSION_STORE %q", cfg.SessionStore)
	}

	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.HMACKeyFromEnv(token.MinHMACKeyBytes); err != nil {
		var ke *token.KeyError
		switch {
		case errors.As(err, &ke) && errors.Is(err, token.ErrHMACKeyMissing):
			return fmt.Errorf("security policy: STOCKPAD_REQUIRE_TOKEN_HMAC=true but %s is missing", ke.Env)
		case errors.As(err, &ke) && errors.Is(err, token.ErrHMACKeyTooShort):
			return fmt.Errorf("security policy: STOCKPAD_REQUIRE_TOKEN_HMAC=true but %s is too short (%d bytes, min %d)", ke.Env, ke.GotBytes, ke.MinBytes)
		default:
			return err
		}
	}

	// The hasher in use must be the keyed one, not just a key in the environment.
	if !hasher.HMAC() {
		return errors.New("security policy: STOCKPAD_REQUIRE_TOKEN_HMAC=true but refresh hasher is not in HMAC mode")
	}

	return nil
}
