package authapi

import (
	"net/http"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg := LoadConfigFromEnv()

	if cfg.RefreshCookieName != "stockpad_refresh_token" {
		t.Fatalf("refresh cookie name=%q", cfg.RefreshCookieName)
	}
	if cfg.CookieSameSite != http.SameSiteStrictMode || !cfg.CookieSecure {
		t.Fatalf("expected Strict+Secure cookies by default, got %v secure=%v", cfg.CookieSameSite, cfg.CookieSecure)
	}
	if cfg.BodyRefreshEnabled {
		t.Fatalf("body refresh transport must be opt-in")
	}
	if cfg.LoginIPMax != 20 || cfg.LoginIPWindow != 5*time.Minute {
		t.Fatalf("unexpected login throttle defaults: %d/%v", cfg.LoginIPMax, cfg.LoginIPWindow)
	}
}

func TestLoadConfigFromEnv_CookieGuardrails(t *testing.T) {
	t.Setenv("STOCKPAD_AUTH_REFRESH_COOKIE_NAME", "sp_token")
	t.Setenv("STOCKPAD_AUTH_CSRF_COOKIE_NAME", "sp_token")
	t.Setenv("STOCKPAD_AUTH_COOKIE_SAMESITE", "none")
	t.Setenv("STOCKPAD_AUTH_COOKIE_SECURE", "false")

	cfg := LoadConfigFromEnv()

	if cfg.CSRFCookieName == cfg.RefreshCookieName {
		t.Fatalf("csrf cookie name must differ from refresh cookie name")
	}
	if cfg.CookieSameSite != http.SameSiteNoneMode {
		t.Fatalf("expected SameSite=None, got %v", cfg.CookieSameSite)
	}
	if !cfg.CookieSecure {
		t.Fatalf("SameSite=None requires Secure=true")
	}
}

func TestLoadConfigFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("STOCKPAD_AUTH_MAX_BODY_BYTES", "-5")
	t.Setenv("STOCKPAD_AUTH_LOGIN_IP_WINDOW", "soon")
	t.Setenv("STOCKPAD_AUTH_BODY_REFRESH", "yes please")

	cfg := LoadConfigFromEnv()

	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes=%d", cfg.MaxBodyBytes)
	}
	if cfg.LoginIPWindow != 5*time.Minute {
		t.Fatalf("LoginIPWindow=%v", cfg.LoginIPWindow)
	}
	if cfg.BodyRefreshEnabled {
		t.Fatalf("unparseable bool must fall back to default")
	}
}

func TestParseSameSite(t *testing.T) {
	tests := []struct {
		in   string
		want http.SameSite
	}{
		{in: "strict", want: http.SameSiteStrictMode},
		{in: "Lax", want: http.SameSiteLaxMode},
		{in: "none", want: http.SameSiteNoneMode},
		{in: "default", want: http.SameSiteDefaultMode},
		{in: "unknown", want: http.SameSiteStrictMode},
	}

	for _, tc := range tests {
		got := parseSameSite(tc.in)
		if got != tc.want {
			t.Fatalf("parseSameSite(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
