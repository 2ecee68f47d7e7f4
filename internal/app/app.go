// Package app wires the realtime gateway runtime: config, logging, stores,
// metrics and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/cambiartech/buykoins-realtime/internal/auth"
	"github.com/cambiartech/buykoins-realtime/internal/realtime"
	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// Store is a small app-level lifecycle abstraction for DB-backed resources.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App owns the HTTP server and the realtime gateway.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry *prometheus.Registry
	gw       *realtime.Gateway
}

// New constructs a fully wired App from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	authn, err := newAuthenticator(cfg, log)
	if err != nil {
		return nil, err
	}

	st, deps, dbPool, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps.Auth = authn
	deps.Notifications = realtime.NewNotificationFeed(cfg.NotificationLimit)
	deps.Metrics = realtime.NewMetrics(reg)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbPool != nil,
		registry:  reg,
		gw:        realtime.NewGateway(log, cfg.GatewayConfig(), deps),
	}, nil
}

// Gateway exposes the realtime gateway, mainly for tests and embedding.
func (a *App) Gateway() *realtime.Gateway { return a.gw }

// Handler builds the full HTTP handler chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.gw, a.registry)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}

// Run serves HTTP and sweeps widget sessions until ctx is cancelled or the
// server fails. Shutdown drains WebSocket clients before closing the listener.
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

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"ws_support", wsBaseURL(base)+"/ws/"+v1.NamespaceSupport,
		"ws_notifications", wsBaseURL(base)+"/ws/"+v1.NamespaceNotifications,
		"ws_widget", wsBaseURL(base)+"/ws/"+v1.NamespaceWidget,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error { return a.gw.Run(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		a.gw.CloseAll("server shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		if err := a.store.Close(shutdownCtx); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
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

// newAuthenticator prefers PASETO verification. Without keys it falls back to
// the configured dev tokens; guests are admitted either way.
func newAuthenticator(cfg Config, log Logger) (realtime.Authenticator, error) {
	if cfg.TokenPublicKeyHex != "" || cfg.TokenSecretKeyHex != "" {
		if len(cfg.DevTokens) > 0 {
			log.Warn("auth.dev_tokens.ignored", "reason", "token keys configured")
		}
		m, err := auth.NewPasetoV4(auth.Config{
			Issuer:       cfg.TokenIssuer,
			PublicKeyHex: cfg.TokenPublicKeyHex,
			SecretKeyHex: cfg.TokenSecretKeyHex,
			TTL:          cfg.TokenTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("app: token verifier: %w", err)
		}
		log.Info("auth.paseto", "issuer", cfg.TokenIssuer)
		return realtime.NewTokenAuthenticator(m), nil
	}

	static := realtime.NewStaticAuthenticator()
	for _, raw := range cfg.DevTokens {
		token, role, id, err := parseDevToken(raw)
		if err != nil {
			return nil, err
		}
		static.Allow(token, role, id)
	}
	log.Warn("auth.static", "dev_tokens", len(cfg.DevTokens), "reason", "no token keys configured")
	return static, nil
}

// newStore decides between Postgres-backed persistence and the in-memory store.
// The returned Deps carry Store and Membership only.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, realtime.Deps, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, realtime.Deps{Store: realtime.NewInMemoryStore()}, nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, realtime.Deps{}, nil, err
	}

	// The app owns the pool; PostgresStore.Close is a no-op.
	msgStore, err := realtime.NewPostgresStore(pool, realtime.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, realtime.Deps{}, nil, err
	}
	if err := msgStore.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, realtime.Deps{}, nil, fmt.Errorf("app: ensure schema: %w", err)
	}
	members, err := realtime.NewPostgresMembershipStore(pool, realtime.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, realtime.Deps{}, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return dbStore{pool: pool, msgStore: msgStore}, realtime.Deps{Store: msgStore, Membership: members}, pool, nil
}

type dbStore struct {
	pool     *pgxpool.Pool
	msgStore realtime.MessageStore
}

func (s dbStore) Close(_ context.Context) error {
	if s.msgStore != nil {
		_ = s.msgStore.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps http(s) to ws(s); a bare host:port gets ws://.
func wsBaseURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	case strings.HasPrefix(httpURL, "ws://"), strings.HasPrefix(httpURL, "wss://"):
		return httpURL
	default:
		return "ws://" + httpURL
	}
}
