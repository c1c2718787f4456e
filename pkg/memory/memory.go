// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory stores short facts about a user as an append-only list kept
// in a single key/value record per user.
package memory

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-memory/pkg/errors"
	"github.com/jllopis/kairos-memory/pkg/kv"
	"github.com/jllopis/kairos-memory/pkg/resilience"
	"github.com/jllopis/kairos-memory/pkg/telemetry"
)

// SavedMessage is returned by every successful Append.
const SavedMessage = "Saved successfully."

// DefaultNamespace prefixes every key written by the service.
const DefaultNamespace = "reactAIExperiments"

// Memory is one remembered statement.
type Memory struct {
	ID        uuid.UUID `json:"id"`
	Statement string    `json:"statement"`
	CreatedAt time.Time `json:"createdAt"`
}

// Strategy selects how concurrent appends for the same user are handled.
type Strategy string

const (
	// StrategyLocked serialises appends per key inside this process.
	StrategyLocked Strategy = "locked"
	// StrategyOptimistic serialises per key and also writes conditionally,
	// retrying on version conflicts from other writers.
	StrategyOptimistic Strategy = "optimistic"
	// StrategyNaive performs an unsynchronised read-modify-write. Concurrent
	// appends for one user may lose entries.
	StrategyNaive Strategy = "naive"
)

// ParseStrategy validates s.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyLocked, StrategyOptimistic, StrategyNaive:
		return st, nil
	default:
		return "", errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown append strategy %q", s), nil)
	}
}

// MemoryKey returns the record key holding userEmail's memories.
func MemoryKey(namespace, userEmail string) string {
	if namespace == "" {
		return "users/" + userEmail + "/memories"
	}
	return namespace + "/users/" + userEmail + "/memories"
}

// Service appends and lists memories.
type Service struct {
	store     kv.Store
	namespace string
	strategy  Strategy
	retry     resilience.RetryConfig
	locks     *keyLocks
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() uuid.UUID
}

// Option configures a Service.
type Option func(*Service)

// WithNamespace overrides DefaultNamespace. An empty namespace is allowed.
func WithNamespace(ns string) Option {
	return func(s *Service) {
		s.namespace = ns
	}
}

// WithStrategy selects the append strategy. The default is StrategyLocked.
func WithStrategy(st Strategy) Option {
	return func(s *Service) {
		if st != "" {
			s.strategy = st
		}
	}
}

// WithMaxAttempts bounds the optimistic retry loop.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.retry = s.retry.WithMaxAttempts(n)
		}
	}
}

// WithRetryConfig replaces the optimistic retry policy. Only version
// conflicts are ever retried.
func WithRetryConfig(rc resilience.RetryConfig) Option {
	return func(s *Service) {
		s.retry = rc
	}
}

// WithMetrics records appends and conflicts.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a memory service over store.
func NewService(store kv.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		namespace: DefaultNamespace,
		strategy:  StrategyLocked,
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(5).
			WithInitialDelay(10 * time.Millisecond).
			WithMaxDelay(500 * time.Millisecond),
		locks:  newKeyLocks(),
		logger: slog.Default(),
		tracer: telemetry.Tracer(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retry = s.retry.
		WithIsRecoverable(isConflict).
		WithOnRetry(func(ctx context.Context, attempt int, err error) {
			s.logger.DebugContext(ctx, "memory append conflict, retrying", "attempt", attempt, "error", err)
		})
	return s
}

// Strategy returns the configured append strategy.
func (s *Service) Strategy() Strategy {
	return s.strategy
}

func isConflict(err error) bool {
	return stderrors.Is(err, kv.ErrVersionConflict)
}

// Append adds statement to userEmail's memories and returns SavedMessage.
// The record is created when absent; otherwise the new memory goes last.
func (s *Service) Append(ctx context.Context, userEmail, statement string) (string, error) {
	key := MemoryKey(s.namespace, userEmail)
	ctx, span := s.tracer.Start(ctx, "memory.append")
	defer span.End()

	m := Memory{ID: s.newID(), Statement: statement, CreatedAt: s.now()}

	var (
		res      appendResult
		attempts int
		err      error
	)
	switch s.strategy {
	case StrategyNaive:
		attempts = 1
		res, err = s.appendOnce(ctx, key, m, false)
	case StrategyOptimistic:
		unlock := s.locks.lock(key)
		defer unlock()
		err = s.retry.Do(ctx, func() error {
			attempts++
			var attemptErr error
			res, attemptErr = s.appendOnce(ctx, key, m, true)
			if isConflict(attemptErr) {
				s.metrics.RecordConflict(ctx, string(s.strategy))
			}
			return attemptErr
		})
	default:
		attempts = 1
		unlock := s.locks.lock(key)
		defer unlock()
		res, err = s.appendOnce(ctx, key, m, false)
	}

	span.SetAttributes(telemetry.MemoryAttributes(string(s.strategy), res.count, res.created, attempts)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.WarnContext(ctx, "memory append failed", "key", key, "strategy", s.strategy, "attempts", attempts, "error", err)
		return "", err
	}

	s.metrics.RecordAppend(ctx, string(s.strategy), res.created)
	s.logger.DebugContext(ctx, "memory appended", "key", key, "count", res.count, "created", res.created)
	return SavedMessage, nil
}

type appendResult struct {
	count   int
	created bool
}

// appendOnce reads the current list and writes it back with m appended.
func (s *Service) appendOnce(ctx context.Context, key string, m Memory, conditional bool) (appendResult, error) {
	existing, err := kv.GetKey[[]Memory](ctx, s.store, key)
	if err != nil {
		return appendResult{}, err
	}

	var (
		current []Memory
		version kv.Version
	)
	if existing != nil {
		current = existing.Value
		version = existing.Version
	}
	next := make([]Memory, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, m)

	if conditional {
		_, err = kv.SetKeyIfVersion(ctx, s.store, key, next, version)
	} else {
		_, err = kv.SetKey(ctx, s.store, key, next)
	}
	if err != nil {
		return appendResult{}, err
	}
	return appendResult{count: len(next), created: existing == nil}, nil
}

// List returns userEmail's memories in insertion order, or nil when none
// were ever saved.
func (s *Service) List(ctx context.Context, userEmail string) ([]Memory, error) {
	data, err := kv.GetKey[[]Memory](ctx, s.store, MemoryKey(s.namespace, userEmail))
	if err != nil || data == nil {
		return nil, err
	}
	return data.Value, nil
}

// Statements returns just the statements of userEmail's memories, or nil
// when none were ever saved.
func (s *Service) Statements(ctx context.Context, userEmail string) ([]string, error) {
	memories, err := s.List(ctx, userEmail)
	if err != nil || memories == nil {
		return nil, err
	}
	out := make([]string, len(memories))
	for i, m := range memories {
		out[i] = m.Statement
	}
	return out, nil
}
