// Package app wires the stockpad server runtime: config, logging, storage,
// HTTP routes, and the session event stream.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"stockpad/cmd/identity"
	authapi "stockpad/cmd/internal/auth/api"
	"stockpad/cmd/internal/auth/session"
	"stockpad/cmd/internal/migrations"
	"stockpad/cmd/internal/realtime"
	"stockpad/cmd/security/password"
	"stockpad/cmd/security/token"
)

// App is the stockpad server runtime: it owns storage handles and the HTTP handler chain.
type App struct {
	cfg Config
	log Logger

	dbPool  *pgxpool.Pool
	redis   *redis.Client
	metrics *prometheus.Registry

	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w (STOCKPAD_ACCESS_SIGNING_KEY must be at least %d bytes)", err, session.MinSigningKeyBytes)
	}
	hasher, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		return nil, fmt.Errorf("refresh hasher: %w", err)
	}
	if err := ValidateSecurityConfig(cfg, hasher); err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	authCfg := authapi.LoadConfigFromEnv()

	a := &App{cfg: cfg, log: log, metrics: prometheus.NewRegistry()}
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	if cfg.DatabaseURL != "" {
		a.dbPool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		if cfg.DBAutoMigrate {
			if err := migrations.Up(ctx, a.dbPool, log); err != nil {
				return nil, err
			}
		}
		log.Info("db.enabled.postgres_store", "auto_migrate", cfg.DBAutoMigrate)
	} else {
		log.Info("db.disabled.inmemory_store")
	}

	var accountStore identity.Store = identity.NewMemoryStore()
	if a.dbPool != nil {
		pgAccounts, err := identity.NewPostgresStore(a.dbPool)
		if err != nil {
			return nil, err
		}
		accountStore = pgAccounts
	}
	accounts, err := identity.NewService(accountStore, pwCfg, log)
	if err != nil {
		return nil, err
	}

	sessionStore, err := a.newSessionStore(ctx)
	if err != nil {
		return nil, err
	}

	tokens, err := session.NewHS256Manager(sessCfg)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log, a.metrics)
	sessions := session.NewService(sessCfg, sessionStore, tokens, hasher, authapi.AccountLookup(accounts),
		session.WithLogger(log),
		session.WithMetrics(session.NewMetrics(a.metrics)),
		session.WithNotifier(hub),
	)

	auth, err := authapi.NewHandler(log, authCfg, accounts, sessions,
		authapi.WithAuditor(authapi.NewAuditor(log, a.dbPool)),
	)
	if err != nil {
		return nil, err
	}

	ws, err := realtime.NewWSGateway(log, hub, sessions)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, routes{
		log:     log,
		cfg:     cfg,
		dbPool:  a.dbPool,
		redis:   a.redisClient(),
		metrics: a.metrics,
		ws:      ws,
		auth:    auth,
	})

	a.handler = WithRequestID(
		WithSecurityHeaders(
			WithCORS(
				WithHTTPMetrics(WithRequestLogging(mux, log), newHTTPMetrics(a.metrics)),
				cfg, log,
			),
		),
	)

	log.Info("app.ready",
		"session_store", cfg.SessionStore,
		"refresh_hmac", hasher.HMAC(),
		"access_ttl", sessCfg.AccessTokenTTL.String(),
		"replay_window", sessCfg.ReplayWindow.String(),
		"body_refresh", authCfg.BodyRefreshEnabled,
	)

	ok = true
	return a, nil
}

func (a *App) newSessionStore(ctx context.Context) (session.Store, error) {
	switch a.cfg.SessionStore {
	case StoreMemory:
		return session.NewMemoryStore(), nil
	case StorePostgres:
		if a.dbPool == nil {
			return nil, errors.New("postgres session store requires STOCKPAD_DATABASE_URL")
		}
		return session.NewPostgresStore(a.dbPool), nil
	case StoreRedis:
		rdb, err := NewRedisClient(ctx, a.cfg)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = rdb
		return session.NewRedisStore(rdb, a.cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", a.cfg.SessionStore)
	}
}

// redisClient avoids handing a typed nil to an interface field.
func (a *App) redisClient() redis.UniversalClient {
	if a.redis == nil {
		return nil
	}
	return a.redis
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbPool != nil,
		"http_url", base,
		"ws_url", wsBaseURL(base)+"/ws/session",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
