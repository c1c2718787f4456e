// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jllopis/kairos-memory/pkg/backend"
	"github.com/jllopis/kairos-memory/pkg/config"
	"github.com/jllopis/kairos-memory/pkg/core"
	"github.com/jllopis/kairos-memory/pkg/errors"
	"github.com/jllopis/kairos-memory/pkg/handlers"
	"github.com/jllopis/kairos-memory/pkg/kv"
	kmcp "github.com/jllopis/kairos-memory/pkg/mcp"
	"github.com/jllopis/kairos-memory/pkg/memory"
	"github.com/jllopis/kairos-memory/pkg/persona"
	"github.com/jllopis/kairos-memory/pkg/resilience"
	"github.com/jllopis/kairos-memory/pkg/retrieval/ollama"
	"github.com/jllopis/kairos-memory/pkg/retrieval/qdrant"
	"github.com/jllopis/kairos-memory/pkg/telemetry"
)

const shutdownGrace = 10 * time.Second

func runServe(ctx context.Context, flags globalFlags, args []string) {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	watch := cmd.Bool("watch", false, "Reload the log level when the config file changes")
	if err := cmd.Parse(args); err != nil {
		fatal(NewInvalidArgumentError("serve", err.Error()))
	}
	ensureNoArgs(cmd.Args())

	path := configPath(flags.ConfigArgs)
	cfg, err := config.LoadWithCLI(flags.ConfigArgs)
	if err != nil {
		fatal(NewConfigError(err, path))
	}

	// stdout belongs to the protocol when serving over stdio.
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitWithConfig(serviceName, version, telemetry.Config{
			Exporter: cfg.Telemetry.Exporter,
			Endpoint: cfg.Telemetry.Endpoint,
			Insecure: cfg.Telemetry.Insecure,
		})
		if err != nil {
			fatal(NewConfigError(err, path))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
		metrics = nil
	}

	a, err := buildApp(cfg, logger, metrics)
	if err != nil {
		fatal(NewConfigError(err, path))
	}
	defer a.Close()

	if *watch && path != "" {
		watcher, err := config.NewWatcher(path,
			config.WithWatchLogger(logger),
			config.WithLoader(func() (*config.Config, error) { return config.LoadWithCLI(flags.ConfigArgs) }),
		)
		if err != nil {
			logger.Warn("config watch disabled", "path", path, "error", err)
		} else {
			watcher.OnChange(func(c *config.Config) {
				telemetry.SetLogLevel(c.Log.Level)
				logger.Info("config reloaded", "log_level", c.Log.Level)
			})
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	logger.Info("starting server",
		"version", version,
		"mode", cfg.Mode,
		"transport", cfg.Server.Transport,
		"kv", cfg.KV.Provider,
		"retrieval", cfg.Retrieval.Provider,
		"append", cfg.Memory.Append,
		"handlers", a.registered)

	if err := a.serve(ctx, os.Stdin, os.Stdout); err != nil {
		fatal(NewServerError(err, "serve"))
	}
	logger.Info("server stopped")
}

// app is the wired server with everything that must be released on exit.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	server     *kmcp.Server
	health     *core.HealthRegistry
	registered []string
	closers    []func() error
}

func buildApp(cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		health: core.NewHealthRegistry(0),
	}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	client, err := newBackendClient(cfg, metrics)
	if err != nil {
		return nil, err
	}
	a.health.Register("backend", client.HealthChecker())

	store, err := a.newStore(client)
	if err != nil {
		return nil, err
	}

	strategy, err := memory.ParseStrategy(cfg.Memory.Append)
	if err != nil {
		return nil, err
	}
	if strategy == memory.StrategyOptimistic && cfg.KV.Provider == "http" {
		// Conditional writes are only as good as the backend's version check.
		logger.Warn("optimistic appends need a backend that rejects stale versions with 409; "+
			"one that ignores the version gives no protection across replicas",
			"memory.append", string(strategy),
			"kv.provider", cfg.KV.Provider)
	}
	memories := memory.NewService(store,
		memory.WithNamespace(cfg.Memory.Namespace),
		memory.WithStrategy(strategy),
		memory.WithMaxAttempts(cfg.Memory.Retries),
		memory.WithMetrics(metrics),
		memory.WithLogger(logger),
	)

	retriever, err := a.newRetriever(client)
	if err != nil {
		return nil, err
	}

	opts := []handlers.Option{
		handlers.WithMetrics(metrics),
		handlers.WithLogger(logger),
		handlers.WithTimeout(cfg.Server.Timeout),
	}
	if cfg.IsDevelopment() {
		opts = append(opts, handlers.WithDebugLog(telemetry.NewDebugLog(cfg.DebugLog.Path, true)))
	}
	h := handlers.New(handlers.Deps{
		Memory:    memories,
		Personas:  persona.NewResolver(store, cfg.Memory.Namespace),
		Retriever: retriever,
		Content:   client,
		Executor:  client,
	}, opts...)

	a.server = kmcp.NewServer(serviceName, version, kmcp.WithMetrics(metrics), kmcp.WithLogger(logger))
	a.registered, err = h.Register(a.server.MCPServer(), cfg.Handlers.Enabled)
	if err != nil {
		return nil, err
	}
	built = true
	return a, nil
}

func newBackendClient(cfg *config.Config, metrics *telemetry.Metrics) (*backend.Client, error) {
	opts := []backend.Option{
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithMetrics(metrics),
	}
	if cfg.Backend.Breaker.Failures > 0 {
		opts = append(opts, backend.WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{
			Name:             "backend",
			FailureThreshold: cfg.Backend.Breaker.Failures,
			Timeout:          cfg.Backend.Breaker.Timeout,
			IsFailure:        backend.IsBreakerFailure,
			OnStateChange: func(name string, _, to resilience.BreakerState) {
				metrics.RecordBreakerState(context.Background(), name, breakerGauge(to))
			},
		})))
	}
	return backend.NewClient(cfg.Backend.URL, cfg.Backend.Secret, opts...)
}

// breakerGauge maps breaker states to the values of the breaker gauge.
func breakerGauge(state resilience.BreakerState) int64 {
	switch state {
	case resilience.StateOpen:
		return 2
	case resilience.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

func (a *app) newStore(client *backend.Client) (kv.Store, error) {
	switch a.cfg.KV.Provider {
	case "sqlite":
		store, err := kv.OpenSQLiteStore(a.cfg.KV.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		a.health.Register("kv", store.HealthChecker())
		return store, nil
	case "memory":
		a.logger.Warn("using the in-memory store; memories are lost on restart")
		return kv.NewInMemoryStore(), nil
	case "http":
		return kv.NewHTTPStore(client), nil
	default:
		return nil, errors.New(errors.CodeInvalidInput, "unknown kv provider", nil).
			WithContext("provider", a.cfg.KV.Provider)
	}
}

func (a *app) newRetriever(client *backend.Client) (backend.Retriever, error) {
	switch a.cfg.Retrieval.Provider {
	case "qdrant":
		embedder := ollama.NewEmbedder(a.cfg.Retrieval.Embedder.URL, a.cfg.Retrieval.Embedder.Model)
		r, err := qdrant.New(a.cfg.Retrieval.Qdrant, embedder, qdrant.WithLimit(a.cfg.Retrieval.Limit))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		a.health.Register("qdrant", r.HealthChecker())
		return r, nil
	case "backend":
		return client, nil
	default:
		return nil, errors.New(errors.CodeInvalidInput, "unknown retrieval provider", nil).
			WithContext("provider", a.cfg.Retrieval.Provider)
	}
}

// serve blocks on the configured transport until ctx is done.
func (a *app) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	if a.cfg.Server.Transport == "stdio" {
		err := a.server.ServeStdio(ctx, in, out)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	handler, closeSessions := a.server.HTTPHandler(a.httpConfig())
	return a.server.ListenAndServe(ctx, a.cfg.Server.Addr(), handler, closeSessions, shutdownGrace)
}

func (a *app) httpConfig() kmcp.HTTPConfig {
	return kmcp.HTTPConfig{
		Transport: a.cfg.Server.Transport,
		CORS:      a.cfg.Server.CORS,
		RPS:       a.cfg.Server.RateLimit.RPS,
		Burst:     a.cfg.Server.RateLimit.Burst,
		Health:    a.health,
	}
}

// Close releases stores and connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close", "error", err)
		}
	}
	a.closers = nil
}
