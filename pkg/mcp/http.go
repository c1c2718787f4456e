// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jllopis/kairos-memory/pkg/core"
)

// HTTP transports.
const (
	TransportSSE        = "sse"
	TransportStreamable = "http"
)

// HTTPConfig selects the transport and the middleware around it.
type HTTPConfig struct {
	Transport string
	// BaseURL is prefixed to the message endpoint announced to SSE clients.
	BaseURL string
	CORS    bool
	// RPS limits the message endpoint. Zero disables the limiter.
	RPS   float64
	Burst int
	// Health backs HealthPath. Nil reports healthy.
	Health *core.HealthRegistry
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// HTTPHandler routes the configured transport and the health endpoint through
// the middleware. The returned function ends open event streams.
func (s *Server) HTTPHandler(cfg HTTPConfig) (http.Handler, func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("GET "+HealthPath, healthHandler(cfg.Health))

	limit := func(h http.Handler) http.Handler { return h }
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(cfg.RPS), burst)
		limit = func(h http.Handler) http.Handler { return rateLimit(h, limiter) }
	}

	// Event streams only end when their request context does.
	streams, closeStreams := context.WithCancel(context.Background())
	longLived := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				h.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithCancel(r.Context())
			defer cancel()
			stop := context.AfterFunc(streams, cancel)
			defer stop()
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	var transport shutdowner
	switch cfg.Transport {
	case TransportStreamable:
		streamable := s.NewStreamableServer()
		mux.Handle(StreamablePath, longLived(limit(streamable)))
		transport = streamable
	default:
		sse := s.NewSSEServer(cfg.BaseURL)
		mux.Handle("GET "+SSEPath, longLived(sse.SSEHandler()))
		mux.Handle("POST "+MessagesPath, limit(sse.MessageHandler()))
		transport = sse
	}

	var handler http.Handler = mux
	if cfg.CORS {
		handler = cors(handler)
	}
	handler = s.accessLog(handler)
	return handler, func(ctx context.Context) error {
		closeStreams()
		return transport.Shutdown(ctx)
	}
}

// ListenAndServe serves handler on addr until ctx is done, then drains
// in-flight requests for up to grace and closes sessions.
func (s *Server) ListenAndServe(ctx context.Context, addr string, handler http.Handler, closeSessions func(context.Context) error, grace time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, handler, closeSessions, grace)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, handler http.Handler, closeSessions func(context.Context) error, grace time.Duration) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "grace", grace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	// Event streams never finish on their own; close sessions first.
	if closeSessions != nil {
		if err := closeSessions(shutdownCtx); err != nil {
			s.logger.Warn("closing sessions", "error", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func healthHandler(registry *core.HealthRegistry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := core.HealthHealthy
		components := []core.HealthResult{}
		if registry != nil {
			components, status = registry.CheckAll(r.Context())
		}

		code := http.StatusOK
		if status == core.HealthUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     status,
			"components": components,
		})
	})
}

func rateLimit(next http.Handler, limiter *rate.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			http.Error(w, `{"error":"rate limit exceeded","code":"RATE_LIMITED"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Mcp-Session-Id, Mcp-Protocol-Version")
		h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		level := slog.LevelDebug
		if rec.status >= 500 {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
