package app

import (
	"context"
	"net/http"
	"time"
)

const readinessTimeout = 2 * time.Second

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", a.handleReady)

	if a.cfg.MetricsEnabled && a.metrics != nil {
		mux.Handle("GET "+a.cfg.MetricsPath, a.metrics.Handler())
	}

	a.api.Register(mux)

	mux.Handle("GET /ws", a.ws)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireStore && a.store.backend == BackendMemory {
		http.Error(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.log.Info("readyz.store.not_ready", "backend", a.store.backend, "err", err)
		http.Error(w, "store not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}
