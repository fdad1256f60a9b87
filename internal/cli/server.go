// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/jeranaias/ollamalink/internal/logging"
	"github.com/jeranaias/ollamalink/internal/metrics"
	"github.com/jeranaias/ollamalink/internal/ollama"
)

// reporter supplies the data behind /status and /healthz.
type reporter interface {
	Report() StatusReport
}

// NewStatusMux serves:
//
//	GET /status   StatusReport as JSON
//	GET /healthz  200 when connected, 503 otherwise
//	GET /metrics  Prometheus collectors
func NewStatusMux(src reporter, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, req)
		})
	})
	r.Use(accessLog(log))

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, src.Report())
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		rep := src.Report()
		status := http.StatusOK
		if rep.State != ollama.StateConnected {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"state":      rep.State,
			"reachable":  rep.Reachable,
			"last_error": rep.LastError,
		})
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// accessLog logs each request at debug level.
func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	log = logging.Component(log, "status")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

// ServeStatus listens on addr and serves NewStatusMux until the app is
// closed. It returns the bound address.
func (a *App) ServeStatus(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status listener: %w", err)
	}
	srv := &http.Server{
		Handler:           NewStatusMux(a, a.log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-a.ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.goRun("status server", func(context.Context) error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	a.log.Info().Str("addr", ln.Addr().String()).Msg("status endpoint listening")
	return ln.Addr(), nil
}
