package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// MinSigningKeyBytes is the shortest accepted HS256 signing key.
const MinSigningKeyBytes = 32

// Config defines all runtime configuration for the session subsystem.
//
// It controls access credential lifetime, refresh credential lifetime,
// the replay window that separates a duplicate refresh from a replay,
// clock skew tolerance, refresh entropy size, and the HS256 signing key.
type Config struct {
	// Issuer is the value set in the "iss" claim of access credentials.
	Issuer string

	// AccessTokenTTL defines the lifetime of access credentials.
	AccessTokenTTL time.Duration

	// RefreshTTL defines how long a refresh credential stays valid after
	// issuance or rotation.
	RefreshTTL time.Duration

	// ReplayWindow is the interval after a rotation during which presenting
	// the consumed credential again is reported as "used too frequently"
	// instead of "invalid".
	ReplayWindow time.Duration

	// ClockSkew defines the allowed time skew during access credential validation.
	ClockSkew time.Duration

	// RefreshTokenBytes defines the number of random bytes used
	// to generate opaque refresh credentials.
	RefreshTokenBytes int

	// SigningKey is the symmetric HS256 key. It never leaves the backend.
	SigningKey []byte

	// RevokeOnReuse clears the account's refresh record when a consumed
	// credential is presented outside the replay window.
	RevokeOnReuse bool
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// SigningKey is empty; callers must provide one.
func DefaultConfig() Config {
	return Config{
		Issuer:            "stockpad",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTTL:        7 * 24 * time.Hour,
		ReplayWindow:      10 * time.Second,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
	}
}

// Validate reports ErrConfig when the configuration cannot be used safely.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Issuer) == "":
		return ErrConfig
	case c.AccessTokenTTL <= 0, c.RefreshTTL <= 0, c.ReplayWindow <= 0:
		return ErrConfig
	case c.ClockSkew < 0:
		return ErrConfig
	case c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 64:
		return ErrConfig
	case len(c.SigningKey) < MinSigningKeyBytes:
		return ErrConfig
	}

	// A replay window at least as long as the access lifetime would let a
	// consumed refresh credential look legitimate for a full access period.
	if c.ReplayWindow >= c.AccessTokenTTL {
		return ErrConfig
	}
	if c.RefreshTTL <= c.AccessTokenTTL {
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - STOCKPAD_ACCESS_SIGNING_KEY (at least 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - STOCKPAD_AUTH_ISSUER
//   - STOCKPAD_AUTH_ACCESS_TTL
//   - STOCKPAD_AUTH_REFRESH_TTL
//   - STOCKPAD_AUTH_REPLAY_WINDOW
//   - STOCKPAD_AUTH_CLOCK_SKEW
//   - STOCKPAD_AUTH_REFRESH_TOKEN_BYTES
//   - STOCKPAD_AUTH_REVOKE_ON_REUSE
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("STOCKPAD_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key string
		dst *time.Duration
		min time.Duration
	}{
		{"STOCKPAD_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL, 1},
		{"STOCKPAD_AUTH_REFRESH_TTL", &cfg.RefreshTTL, 1},
		{"STOCKPAD_AUTH_REPLAY_WINDOW", &cfg.ReplayWindow, 1},
		{"STOCKPAD_AUTH_CLOCK_SKEW", &cfg.ClockSkew, 0},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < d.min {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := os.Getenv("STOCKPAD_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	if v := os.Getenv("STOCKPAD_AUTH_REVOKE_ON_REUSE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.RevokeOnReuse = b
	}

	cfg.SigningKey = []byte(strings.TrimSpace(os.Getenv("STOCKPAD_ACCESS_SIGNING_KEY")))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
