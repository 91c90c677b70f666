package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Refresh credential transport. The refresh credential travels in an
	// HttpOnly cookie; BodyRefreshEnabled additionally accepts and returns it
	// in JSON bodies for non-browser clients.
	RefreshCookieName  string
	CSRFCookieName     string
	CSRFHeaderName     string
	CookiePath         string
	CookieDomain       string
	CookieSecure       bool
	CookieSameSite     http.SameSite
	BodyRefreshEnabled bool

	// Per-IP throttle for /auth/login and /auth/register.
	LoginIPMax    int
	LoginIPWindow time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20, // 1 MiB
		RefreshCookieName: "stockpad_refresh_token",
		CSRFCookieName:    "stockpad_csrf_token",
		CSRFHeaderName:    "X-CSRF-Token",
		CookiePath:        "/",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteStrictMode,
		LoginIPMax:        20,
		LoginIPWindow:     5 * time.Minute,
	}
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()

	cfg := Config{
		TrustProxy:         envBool("STOCKPAD_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:       envInt64("STOCKPAD_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		RefreshCookieName:  envString("STOCKPAD_AUTH_REFRESH_COOKIE_NAME", def.RefreshCookieName),
		CSRFCookieName:     envString("STOCKPAD_AUTH_CSRF_COOKIE_NAME", def.CSRFCookieName),
		CSRFHeaderName:     envString("STOCKPAD_AUTH_CSRF_HEADER_NAME", def.CSRFHeaderName),
		CookiePath:         envString("STOCKPAD_AUTH_COOKIE_PATH", def.CookiePath),
		CookieDomain:       strings.TrimSpace(os.Getenv("STOCKPAD_AUTH_COOKIE_DOMAIN")),
		CookieSecure:       envBool("STOCKPAD_AUTH_COOKIE_SECURE", def.CookieSecure),
		CookieSameSite:     parseSameSite(envString("STOCKPAD_AUTH_COOKIE_SAMESITE", "strict")),
		BodyRefreshEnabled: envBool("STOCKPAD_AUTH_BODY_REFRESH", false),
		LoginIPMax:         envInt("STOCKPAD_AUTH_LOGIN_IP_MAX", def.LoginIPMax),
		LoginIPWindow:      envDuration("STOCKPAD_AUTH_LOGIN_IP_WINDOW", def.LoginIPWindow),
	}

	return cfg.normalized()
}

// normalized applies cookie guardrails.
func (c Config) normalized() Config {
	def := DefaultConfig()

	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.RefreshCookieName == "" {
		c.RefreshCookieName = def.RefreshCookieName
	}
	if c.CSRFCookieName == "" || c.CSRFCookieName == c.RefreshCookieName {
		c.CSRFCookieName = c.RefreshCookieName + "_csrf"
	}
	if c.CSRFHeaderName == "" {
		c.CSRFHeaderName = def.CSRFHeaderName
	}
	if c.CookiePath == "" {
		c.CookiePath = "/"
	}
	// Browsers drop SameSite=None cookies that are not Secure.
	if c.CookieSameSite == http.SameSiteNoneMode {
		c.CookieSecure = true
	}
	if c.LoginIPWindow <= 0 {
		c.LoginIPWindow = def.LoginIPWindow
	}
	return c
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteStrictMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
