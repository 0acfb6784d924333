// Package app wires the parley server runtime: config, logging, the rate
// limiter in front of the HTTP surface, the REST API, and the room gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"parley/internal/chat"
	"parley/internal/ratelimit"
)

// App owns the HTTP server wiring and the relay core dependencies.
type App struct {
	cfg Config
	log Logger

	store     chat.Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	rdb *redis.Client

	admitter ratelimit.Admitter
	resolver *ratelimit.IdentityResolver

	api *apiHandler
	ws  *chat.Gateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	store, dbPool, dbEnabled, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	rateCfg := cfg.RateConfig()
	limiter := ratelimit.New(log, rateCfg)

	var admitter ratelimit.Admitter = limiter
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = NewRedisClient(context.Background(), cfg)
		if err != nil {
			if dbPool != nil {
				dbPool.Close()
			}
			return nil, err
		}
		admitter = ratelimit.NewRedisAdmitter(log, rdb, rateCfg, limiter)
		log.Info("ratelimit.backend.redis")
	} else {
		log.Info("ratelimit.backend.inprocess")
	}

	reg := chat.NewRegistry(log)
	bc := chat.NewBroadcaster(log, reg)
	ws := chat.NewGateway(log, store, reg, bc, chat.GatewayConfig{
		WriteTimeout:       cfg.WSWriteTimeout,
		ReadIdleTimeout:    cfg.WSReadIdleTimeout,
		OriginPatterns:     cfg.WSOriginPatterns,
		InsecureSkipVerify: cfg.WSDevInsecure,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		rdb:       rdb,
		admitter:  admitter,
		resolver:  ratelimit.NewIdentityResolver(cfg.IdentityHeader),
		api:       newAPIHandler(log, store),
		ws:        ws,
	}, nil
}

// Handler assembles the full middleware chain around the routed mux.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.api, a.ws)

	guarded := ratelimit.Middleware(mux, a.admitter, a.resolver, a.log)
	return WithRequestLogging(guarded, a.log)
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.close()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
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

// newStore decides between Postgres-backed persistence and the in-memory
// dev store. The app owns the pool lifecycle; PostgresStore.Close is a no-op.
func newStore(ctx context.Context, cfg Config, log Logger) (chat.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return chat.NewMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := chat.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")
	return store, pool, true, nil
}
