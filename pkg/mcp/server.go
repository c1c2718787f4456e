// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes the handler catalogue over the Model Context Protocol
// and provides a small client used to probe running servers.
package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/kairos-memory/pkg/telemetry"
)

// Endpoint paths served over HTTP.
const (
	SSEPath        = "/sse"
	MessagesPath   = "/messages"
	StreamablePath = "/mcp"
	HealthPath     = "/healthz"
)

const instructions = "Personal memory and knowledge tools. Save what the user reveals about " +
	"themselves with saveUserInfoToMemory, read it back from users://{+userEmail}/memories, and " +
	"use getRelevantDocs, getUrlContent and executeCode for research and computation."

// Server wraps the mcp-go server with session bookkeeping.
type Server struct {
	mcpServer *server.MCPServer
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetrics counts sessions.
func WithMetrics(m *telemetry.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger for session and protocol events.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a server advertising tool, resource and prompt capabilities.
// Handler panics are recovered and reported as errors.
func NewServer(name, version string, opts ...ServerOption) *Server {
	s := &Server{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
		server.WithRecovery(),
		server.WithResourceRecovery(),
		server.WithHooks(s.hooks()),
		server.WithInstructions(instructions),
	)
	return s
}

// hooks keep the session registry observable. mcp-go owns the registry and
// routes every message to the session named by its id.
func (s *Server) hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		s.metrics.SessionOpened(ctx)
		s.logger.InfoContext(ctx, "session registered", "session_id", session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		s.metrics.SessionClosed(ctx)
		s.logger.InfoContext(ctx, "session unregistered", "session_id", session.SessionID())
	})
	hooks.AddAfterInitialize(func(ctx context.Context, _ any, req *mcp.InitializeRequest, _ *mcp.InitializeResult) {
		s.logger.DebugContext(ctx, "client initialized",
			"client", req.Params.ClientInfo.Name,
			"client_version", req.Params.ClientInfo.Version,
			"protocol", req.Params.ProtocolVersion)
	})
	hooks.AddOnError(func(ctx context.Context, _ any, method mcp.MCPMethod, _ any, err error) {
		s.logger.WarnContext(ctx, "protocol error", "method", method, "error", err)
	})
	return hooks
}

// MCPServer returns the underlying server so handlers can be registered.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// NewSSEServer serves the event stream on SSEPath and accepts messages on
// MessagesPath?sessionId=. baseURL may be empty for relative endpoints.
func (s *Server) NewSSEServer(baseURL string) *server.SSEServer {
	opts := []server.SSEOption{
		server.WithSSEEndpoint(SSEPath),
		server.WithMessageEndpoint(MessagesPath),
		server.WithKeepAlive(true),
	}
	if baseURL != "" {
		opts = append(opts, server.WithBaseURL(baseURL))
	}
	return server.NewSSEServer(s.mcpServer, opts...)
}

// NewStreamableServer serves the streamable HTTP transport on StreamablePath.
func (s *Server) NewStreamableServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath(StreamablePath))
}

// ServeStdio serves a single client over in and out until ctx is done.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}
