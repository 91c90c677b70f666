package app

import (
	"strings"
	"time"
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBAutoMigrate bool

	// SessionStore selects where refresh records live. Empty means postgres
	// when a database is configured and memory otherwise.
	SessionStore string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, STOCKPAD_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and refresh digests are HMAC-based.
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	cfg := Config{
		HTTPAddr:  EnvString("STOCKPAD_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("STOCKPAD_LOG_LEVEL", "info"),
		LogFormat: EnvString("STOCKPAD_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("STOCKPAD_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("STOCKPAD_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("STOCKPAD_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("STOCKPAD_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("STOCKPAD_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("STOCKPAD_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("STOCKPAD_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("STOCKPAD_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("STOCKPAD_DB_MIN_CONNS", 0),
		DBAutoMigrate: EnvBool("STOCKPAD_DB_AUTO_MIGRATE", false),

		SessionStore: strings.ToLower(EnvString("STOCKPAD_SESSION_STORE", "")),

		RedisAddr:     EnvString("STOCKPAD_REDIS_ADDR", ""),
		RedisPassword: EnvString("STOCKPAD_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("STOCKPAD_REDIS_DB", 0),
		RedisPrefix:   EnvString("STOCKPAD_REDIS_PREFIX", "stockpad:refresh"),

		ReadinessRequireDB: EnvBool("STOCKPAD_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("STOCKPAD_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvCSV("STOCKPAD_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("STOCKPAD_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("STOCKPAD_CORS_MAX_AGE_SECONDS", 600),
	}

	if cfg.SessionStore == "" {
		cfg.SessionStore = StoreMemory
		if cfg.DatabaseURL != "" {
			cfg.SessionStore = StorePostgres
		}
	}
	return cfg
}
