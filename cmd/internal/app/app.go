// Package app wires the inbox server runtime: config, logging, storage, HTTP routes and the viewer gateway.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"inbox/cmd/internal/api"
	"inbox/cmd/internal/inbox"
	"inbox/cmd/internal/metrics"
	"inbox/cmd/internal/realtime"

	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

// App is the inbox server runtime: it owns the store, the broadcast path and the HTTP server.
type App struct {
	cfg Config
	log Logger

	store   *storeHandle
	metrics *metrics.Metrics

	hub   *realtime.Hub
	relay *realtime.RedisRelay
	rdb   *redis.Client

	pipeline *inbox.Pipeline
	queries  *inbox.Service

	api *api.Handler
	ws  *realtime.WSGateway
}

// New constructs a fully wired App from config and logger.
// Connections opened here are released by Run on shutdown, or by Close.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, store: st}
	if err := a.wire(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	if a.cfg.MetricsEnabled {
		a.metrics = metrics.New()
	}

	// A nil *metrics.Metrics is a valid no-op observer.
	a.hub = realtime.NewHub(a.log, realtime.WithHubObserver(a.metrics))

	var broadcaster inbox.Broadcaster = a.hub
	if a.cfg.RedisURL != "" {
		rdb, err := NewRedisClient(ctx, a.cfg)
		if err != nil {
			return err
		}
		a.rdb = rdb

		relay, err := realtime.NewRedisRelay(a.log, rdb, a.hub, a.cfg.RelayInstance)
		if err != nil {
			return err
		}
		a.relay = relay
		broadcaster = relay
		a.log.Info("relay.enabled", "channel", relay.Channel())
	}

	pipeline, err := inbox.NewPipeline(a.log, a.store, a.store, broadcaster, inbox.WithObserver(a.metrics))
	if err != nil {
		return err
	}
	a.pipeline = pipeline

	queries, err := inbox.NewService(a.log, a.store, a.store)
	if err != nil {
		return err
	}
	a.queries = queries

	h, err := api.NewHandler(a.log, api.Config{MaxBodyBytes: a.cfg.MaxBodyBytes}, pipeline, queries)
	if err != nil {
		return err
	}
	a.api = h

	a.ws = realtime.NewWSGateway(a.log, a.hub, realtime.GatewayConfig{
		AllowedOrigins:    a.cfg.WSAllowedOrigins,
		OriginRequired:    a.cfg.WSOriginRequired,
		SendQueueSize:     a.cfg.WSSendQueueSize,
		HeartbeatInterval: a.cfg.WSHeartbeatInterval,
		HeartbeatTimeout:  a.cfg.WSHeartbeatTimeout,
		RateEvents:        a.cfg.WSRateEvents,
		RateWindow:        a.cfg.WSRateWindow,
	})
	return nil
}

// Handler returns the full HTTP stack: routes wrapped in CORS, security headers and request logging.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	var rec RequestRecorder
	if a.metrics != nil {
		rec = a.metrics
	}

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log, rec)
	return h
}

// Migrate applies the schema or indexes of the configured backend.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}
	a.log.Info("store.migrated", "backend", a.store.backend)
	return nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.log.Error("app.close.fail", "err", err)
		}
	}()

	if a.cfg.AutoMigrate {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}

	if a.relay != nil {
		if err := a.relay.Start(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return err
	}

	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"store", a.store.backend,
		"relay", a.relay != nil,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases the relay, the redis client and the store. Safe to call on a partially wired App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.relay != nil {
		errs = append(errs, a.relay.Close())
		a.relay = nil
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
		a.rdb = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Shutdown(ctx))
		a.store = nil
	}
	return errors.Join(errs...)
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

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Wildcard binds map to the IPv4 loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
