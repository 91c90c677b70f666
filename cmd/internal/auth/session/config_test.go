package session

import (
	"strings"
	"testing"
	"time"
)

const envSigningKey = "0123456789abcdef0123456789abcdef"

func TestLoadConfigFromEnv_MissingSigningKey(t *testing.T) {
	t.Setenv("STOCKPAD_ACCESS_SIGNING_KEY", "")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on missing key, got %v", err)
	}
}

func TestLoadConfigFromEnv_ShortSigningKey(t *testing.T) {
	t.Setenv("STOCKPAD_ACCESS_SIGNING_KEY", strings.Repeat("k", 31))
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on short key, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	t.Setenv("STOCKPAD_ACCESS_SIGNING_KEY", envSigningKey)
	t.Setenv("STOCKPAD_AUTH_ACCESS_TTL", "-5m")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidRefreshTokenBytes(t *testing.T) {
	t.Setenv("STOCKPAD_ACCESS_SIGNING_KEY", envSigningKey)
	t.Setenv("STOCKPAD_AUTH_REFRESH_TOKEN_BYTES", "16")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for small refresh bytes, got %v", err)
	}
}

func TestLoadConfigFromEnv_ReplayWindowMustBeShorterThanAccessTTL(t *testing.T) {
	t.Setenv("STOCKPAD_ACCESS_SIGNING_KEY", envSigningKey)
	t.Setenv("STOCKPAD_AUTH_ACCESS_TTL", "1m")
	t.Setenv("STOCKPAD_AUTH_REPLAY_WINDOW", "1m")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig for replay window >= access ttl, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("STOCKPAD_ACCESS_SIGNING_KEY", "  "+envSigningKey+"  ")
	t.Setenv("STOCKPAD_AUTH_ISSUER", "stockpad-test")
	t.Setenv("STOCKPAD_AUTH_ACCESS_TTL", "10m")
	t.Setenv("STOCKPAD_AUTH_REFRESH_TTL", "48h")
	t.Setenv("STOCKPAD_AUTH_REPLAY_WINDOW", "5s")
	t.Setenv("STOCKPAD_AUTH_CLOCK_SKEW", "20s")
	t.Setenv("STOCKPAD_AUTH_REFRESH_TOKEN_BYTES", "48")
	t.Setenv("STOCKPAD_AUTH_REVOKE_ON_REUSE", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Issuer != "stockpad-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 10*time.Minute {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTTL != 48*time.Hour {
		t.Fatalf("refresh ttl mismatch: %v", cfg.RefreshTTL)
	}
	if cfg.ReplayWindow != 5*time.Second {
		t.Fatalf("replay window mismatch: %v", cfg.ReplayWindow)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
	if cfg.RefreshTokenBytes != 48 {
		t.Fatalf("refresh token bytes mismatch: %d", cfg.RefreshTokenBytes)
	}
	if !cfg.RevokeOnReuse {
		t.Fatalf("expected revoke on reuse")
	}
	if string(cfg.SigningKey) != envSigningKey {
		t.Fatalf("signing key should be trimmed")
	}
}

func TestDefaultConfig_Policy(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.AccessTokenTTL != 15*time.Minute || cfg.RefreshTTL != 7*24*time.Hour || cfg.ReplayWindow != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != ErrConfig {
		t.Fatalf("defaults without a key must not validate, got %v", err)
	}
	cfg.SigningKey = testSigningKey
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with key: %v", err)
	}
}
