// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/kairos-memory/pkg/errors"
)

// Metrics holds the server instruments. A nil *Metrics is valid and records
// nothing, so components can take one unconditionally.
type Metrics struct {
	// requests counts handler invocations by kind and name
	requests metric.Int64Counter

	// errors counts failures by code and component
	errors metric.Int64Counter

	// backendDuration tracks backend call latency in milliseconds
	backendDuration metric.Float64Histogram

	// appends counts memory appends by strategy and outcome
	appends metric.Int64Counter

	// conflicts counts version conflicts observed by optimistic appends
	conflicts metric.Int64Counter

	// sessions tracks open protocol sessions
	sessions metric.Int64UpDownCounter

	// breakerState tracks circuit breaker state (0=open, 1=half-open, 2=closed)
	breakerState metric.Int64Gauge
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(InstrumentationName)
	m := &Metrics{}
	var err error

	if m.requests, err = meter.Int64Counter(
		"kairos.mcp.requests",
		metric.WithDescription("Handler invocations by kind and name"),
	); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter(
		"kairos.mcp.errors",
		metric.WithDescription("Errors by code and component"),
	); err != nil {
		return nil, err
	}
	if m.backendDuration, err = meter.Float64Histogram(
		"kairos.backend.duration",
		metric.WithDescription("Backend call latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.appends, err = meter.Int64Counter(
		"kairos.memory.appends",
		metric.WithDescription("Memory appends by strategy and outcome"),
	); err != nil {
		return nil, err
	}
	if m.conflicts, err = meter.Int64Counter(
		"kairos.memory.conflicts",
		metric.WithDescription("Conditional write conflicts during memory appends"),
	); err != nil {
		return nil, err
	}
	if m.sessions, err = meter.Int64UpDownCounter(
		"kairos.mcp.sessions",
		metric.WithDescription("Open protocol sessions"),
	); err != nil {
		return nil, err
	}
	if m.breakerState, err = meter.Int64Gauge(
		"kairos.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state (0=open, 1=half-open, 2=closed)"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRequest counts a handler invocation.
func (m *Metrics) RecordRequest(ctx context.Context, kind, name string) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrHandlerKind, kind),
		attribute.String(AttrHandlerName, name),
	))
}

// RecordError increments the error counter for err's code and component.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}

	code, recoverable := "UNKNOWN", "unknown"
	var ke *errors.KairosError
	if stderrors.As(err, &ke) {
		code, recoverable = string(ke.Code), ke.RecoverableString()
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.String(AttrComponent, component),
		attribute.String("recoverable", recoverable),
	))
}

// RecordBackendCall records the latency of one backend request.
func (m *Metrics) RecordBackendCall(ctx context.Context, operation string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.backendDuration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(
		attribute.String(AttrBackendOperation, operation),
		attribute.Int(AttrBackendStatus, status),
	))
}

// RecordAppend counts a memory append.
func (m *Metrics) RecordAppend(ctx context.Context, strategy string, created bool) {
	if m == nil {
		return
	}
	m.appends.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrMemoryStrategy, strategy),
		attribute.Bool(AttrMemoryCreated, created),
	))
}

// RecordConflict counts a lost conditional write.
func (m *Metrics) RecordConflict(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	m.conflicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrMemoryStrategy, strategy),
	))
}

// SessionOpened increments the open session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1)
}

// SessionClosed decrements the open session gauge.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, -1)
}

// RecordBreakerState records the circuit breaker state for a component.
func (m *Metrics) RecordBreakerState(ctx context.Context, component string, state int64) {
	if m == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(
		attribute.String(AttrComponent, component),
	))
}
