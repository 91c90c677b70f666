package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stockpad/cmd/security/token"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://stockpad.example.com", want: "wss://stockpad.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func setAppTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STOCKPAD_ACCESS_SIGNING_KEY", strings.Repeat("k", 32))
	t.Setenv("STOCKPAD_TOKEN_HMAC_KEY", strings.Repeat("h", 32))
	t.Setenv("STOCKPAD_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("STOCKPAD_ARGON2_ITERATIONS", "1")
	t.Setenv("STOCKPAD_ARGON2_PARALLELISM", "1")
	t.Setenv("STOCKPAD_AUTH_COOKIE_SECURE", "false")
	t.Setenv("STOCKPAD_DATABASE_URL", "")
	t.Setenv("STOCKPAD_SESSION_STORE", "")
}

func TestLoadConfig_SessionStoreDefault(t *testing.T) {
	t.Setenv("STOCKPAD_SESSION_STORE", "")
	t.Setenv("STOCKPAD_DATABASE_URL", "")
	if got := LoadConfig().SessionStore; got != StoreMemory {
		t.Fatalf("without a database: %q", got)
	}

	t.Setenv("STOCKPAD_DATABASE_URL", "postgres://localhost/stockpad")
	if got := LoadConfig().SessionStore; got != StorePostgres {
		t.Fatalf("with a database: %q", got)
	}

	t.Setenv("STOCKPAD_SESSION_STORE", "Redis")
	if got := LoadConfig().SessionStore; got != StoreRedis {
		t.Fatalf("explicit store: %q", got)
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Setenv("STOCKPAD_TOKEN_HMAC_KEY", "")

	if err := ValidateSecurityConfig(Config{SessionStore: StoreMemory}, token.NewHasher(nil)); err != nil {
		t.Fatalf("memory store without HMAC policy: %v", err)
	}
	if err := ValidateSecurityConfig(Config{SessionStore: StorePostgres}, token.NewHasher(nil)); err == nil {
		t.Fatalf("postgres store without database must fail")
	}
	if err := ValidateSecurityConfig(Config{SessionStore: "etcd"}, token.NewHasher(nil)); err == nil {
		t.Fatalf("unknown store must fail")
	}

	strict := Config{SessionStore: StoreMemory, RequireTokenHMAC: true}
	if err := ValidateSecurityConfig(strict, token.NewHasher(nil)); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected missing key error, got %v", err)
	}

	t.Setenv("STOCKPAD_TOKEN_HMAC_KEY", "short")
	if err := ValidateSecurityConfig(strict, token.NewHasher(nil)); err == nil || !strings.Contains(err.Error(), "too short (5 bytes, min 32)") {
		t.Fatalf("expected short key error, got %v", err)
	}

	key := strings.Repeat("h", 32)
	t.Setenv("STOCKPAD_TOKEN_HMAC_KEY", key)
	if err := ValidateSecurityConfig(strict, token.NewHasher(nil)); err == nil {
		t.Fatalf("unkeyed hasher must fail under HMAC policy")
	}
	if err := ValidateSecurityConfig(strict, token.NewHasher([]byte(key))); err != nil {
		t.Fatalf("keyed hasher: %v", err)
	}
}

func TestNew_RequiresSigningKey(t *testing.T) {
	setAppTestEnv(t)
	t.Setenv("STOCKPAD_ACCESS_SIGNING_KEY", "too-short")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := New(context.Background(), LoadConfig(), log); err == nil {
		t.Fatalf("expected startup failure without a usable signing key")
	}
}

func TestNew_MemoryModeServesRoutes(t *testing.T) {
	setAppTestEnv(t)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), LoadConfig(), log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := a.Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" || rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("%s: middleware headers missing: %v", path, rr.Header())
		}
	}

	body := `{"username":"alice","password":"correct horse battery","display_name":"Alice"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: status %d body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rr.Code)
	}
	for _, name := range []string{"stockpad_session_issued_total 1", "stockpad_http_requests_total", "stockpad_ws_connections 0"} {
		if !strings.Contains(rr.Body.String(), name) {
			t.Fatalf("metrics output missing %q", name)
		}
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws/session", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("ws without bearer: status %d", rr.Code)
	}
}
