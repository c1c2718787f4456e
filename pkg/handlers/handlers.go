// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the tools, resources and prompts the server
// exposes. Each handler validates its input, performs at most one dependent
// lookup and exactly one service call, and answers with a single text block.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-memory/pkg/backend"
	"github.com/jllopis/kairos-memory/pkg/core"
	"github.com/jllopis/kairos-memory/pkg/errors"
	"github.com/jllopis/kairos-memory/pkg/persona"
	"github.com/jllopis/kairos-memory/pkg/resilience"
	"github.com/jllopis/kairos-memory/pkg/telemetry"
)

// Handler names as advertised to clients.
const (
	NameUserMemories = "userMemories"
	NameSaveUserInfo = "saveUserInfoToMemory"
	NameRelevantDocs = "getRelevantDocs"
	NameURLContent   = "getUrlContent"
	NameExecuteCode  = "executeCode"
	NamePersona      = "persona"
	NameMemory       = "memory"
)

// Names lists every handler in registration order.
var Names = []string{
	NameUserMemories,
	NameSaveUserInfo,
	NameRelevantDocs,
	NameURLContent,
	NameExecuteCode,
	NamePersona,
	NameMemory,
}

// Kind is the protocol surface a handler is exposed on.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// MemoryService appends and lists user memories.
type MemoryService interface {
	Append(ctx context.Context, userEmail, statement string) (string, error)
	Statements(ctx context.Context, userEmail string) ([]string, error)
}

// PersonaResolver finds the persona a retrieval or prompt is scoped to.
type PersonaResolver interface {
	Resolve(ctx context.Context, userEmail, personaID string) (*persona.Persona, error)
}

// Deps are the services handlers call. A nil dependency disables the
// handlers that need it; asking for them in Register is an error.
type Deps struct {
	Memory    MemoryService
	Personas  PersonaResolver
	Retriever backend.Retriever
	Content   backend.ContentFetcher
	Executor  backend.CodeExecutor
}

// Handlers owns the handler catalogue and its cross-cutting concerns.
type Handlers struct {
	deps    Deps
	debug   *telemetry.DebugLog
	metrics *telemetry.Metrics
	logger  *slog.Logger
	timeout time.Duration
	tracer  trace.Tracer
}

// Option configures Handlers.
type Option func(*Handlers)

// WithDebugLog records every invocation to the development debug log.
func WithDebugLog(d *telemetry.DebugLog) Option {
	return func(h *Handlers) { h.debug = d }
}

// WithMetrics records request and error counters.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Handlers) { h.metrics = m }
}

// WithLogger sets the logger used for handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithTimeout bounds every handler. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(h *Handlers) { h.timeout = d }
}

// New creates the handler set over deps.
func New(deps Deps, opts ...Option) *Handlers {
	h := &Handlers{
		deps:   deps,
		logger: slog.Default(),
		tracer: telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the enabled handlers to s and returns the registered names.
// An empty enabled list registers every handler.
func (h *Handlers) Register(s *server.MCPServer, enabled []string) ([]string, error) {
	if len(enabled) == 0 {
		enabled = Names
	}
	for _, name := range enabled {
		if !slices.Contains(Names, name) {
			return nil, errors.New(errors.CodeInvalidInput, "unknown handler", nil).WithContext("handler", name)
		}
		if missing := h.missingDependency(name); missing != "" {
			return nil, errors.New(errors.CodeInvalidInput, "handler dependency not configured", nil).
				WithContext("handler", name).
				WithContext("dependency", missing)
		}
	}

	var registered []string
	for _, name := range Names {
		if !slices.Contains(enabled, name) {
			continue
		}
		switch name {
		case NameUserMemories:
			s.AddResourceTemplate(userMemoriesTemplate(), h.userMemories)
		case NameSaveUserInfo:
			s.AddTool(saveUserInfoTool(), h.saveUserInfo)
		case NameRelevantDocs:
			s.AddTool(relevantDocsTool(), h.relevantDocs)
		case NameURLContent:
			s.AddTool(urlContentTool(), h.urlContent)
		case NameExecuteCode:
			s.AddTool(executeCodeTool(), h.executeCode)
		case NamePersona:
			s.AddPrompt(personaPrompt(), h.personaPrompt)
		case NameMemory:
			s.AddPrompt(memoryPrompt(), h.memoryPrompt)
		}
		registered = append(registered, name)
	}
	h.logger.Info("handlers registered", "handlers", registered)
	return registered, nil
}

func (h *Handlers) missingDependency(name string) string {
	switch name {
	case NameUserMemories, NameSaveUserInfo, NameMemory:
		if h.deps.Memory == nil {
			return "memory"
		}
	case NameRelevantDocs:
		if h.deps.Personas == nil {
			return "personas"
		}
		if h.deps.Retriever == nil {
			return "retriever"
		}
	case NamePersona:
		if h.deps.Personas == nil {
			return "personas"
		}
	case NameURLContent:
		if h.deps.Content == nil {
			return "content"
		}
	case NameExecuteCode:
		if h.deps.Executor == nil {
			return "executor"
		}
	}
	return ""
}

// run wraps one invocation with tracing, metrics, the timeout backstop and
// the debug log.
func (h *Handlers) run(ctx context.Context, kind Kind, name string, input any, fn func(ctx context.Context) (string, error)) (string, error) {
	sessionID := ""
	if session := server.ClientSessionFromContext(ctx); session != nil {
		sessionID = session.SessionID()
	}

	ctx, callID := core.EnsureCallID(ctx)
	ctx, span := h.tracer.Start(ctx, string(kind)+"."+name)
	defer span.End()
	span.SetAttributes(telemetry.HandlerAttributes(string(kind), name, sessionID)...)
	span.SetAttributes(attribute.String(telemetry.AttrCallID, callID))
	if raw, err := json.Marshal(input); err == nil {
		span.SetAttributes(telemetry.HandlerArgs(string(raw))...)
	}
	h.metrics.RecordRequest(ctx, string(kind), name)

	out, err := resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: h.timeout}, fn)

	entry := telemetry.DebugEntry{
		Kind:      string(kind),
		Handler:   name,
		SessionID: sessionID,
		CallID:    callID,
		Input:     input,
	}
	span.SetAttributes(attribute.Bool(telemetry.AttrHandlerSuccess, err == nil))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.metrics.RecordError(ctx, err, "handlers")
		h.logger.WarnContext(ctx, "handler failed",
			"kind", kind,
			"handler", name,
			"session_id", sessionID,
			"call_id", callID,
			"error", err)
		entry.Error = errorText(err)
	} else {
		entry.Output = out
	}
	h.debug.Record(ctx, entry)
	return out, err
}

// runTool converts failures into error results so the model sees them.
func (h *Handlers) runTool(ctx context.Context, name string, input any, fn func(ctx context.Context) (string, error)) (*mcp.CallToolResult, error) {
	out, err := h.run(ctx, KindTool, name, input, fn)
	if err != nil {
		return mcp.NewToolResultError(errorText(err)), nil
	}
	return mcp.NewToolResultText(out), nil
}

// protocolError surfaces a handler failure as a JSON-RPC error.
type protocolError struct {
	err error
}

func (e *protocolError) Error() string { return errorText(e.err) }

func (e *protocolError) Unwrap() error { return e.err }

// errorText renders err for clients. Typed errors show their message and
// cause but never the code prefix.
func errorText(err error) string {
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return "invalid input: " + ve.Error()
	}
	var ke *errors.KairosError
	if stderrors.As(err, &ke) {
		if ke.Err == nil || ke.Code == errors.CodeNotFound || ke.Code == errors.CodeUnsupported {
			return ke.Message
		}
		return fmt.Sprintf("%s: %v", ke.Message, ke.Err)
	}
	return err.Error()
}

func marshalText(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.New(errors.CodeInternal, "failed to encode result", err)
	}
	return string(data), nil
}
