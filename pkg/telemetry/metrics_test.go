// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jllopis/kairos-memory/pkg/errors"
)

func withManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(previous) })
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected int64 sum, got %T", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsRecorded(t *testing.T) {
	reader := withManualReader(t)
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	ctx := context.Background()

	m.RecordRequest(ctx, "tool", "executeCode")
	m.RecordRequest(ctx, "resource", "userMemories")
	m.RecordError(ctx, errors.New(errors.CodeUnsupported, "This programming language is not supported", nil), "handlers")
	m.RecordBackendCall(ctx, "execute-code", 200, 15*time.Millisecond)
	m.RecordAppend(ctx, "locked", true)
	m.RecordConflict(ctx, "optimistic")
	m.SessionOpened(ctx)
	m.SessionOpened(ctx)
	m.SessionClosed(ctx)
	m.RecordBreakerState(ctx, "backend", 2)

	data := collect(t, reader)
	if got := sumOf(t, data["kairos.mcp.requests"]); got != 2 {
		t.Errorf("expected 2 requests, got %d", got)
	}
	if got := sumOf(t, data["kairos.mcp.errors"]); got != 1 {
		t.Errorf("expected 1 error, got %d", got)
	}
	if got := sumOf(t, data["kairos.memory.appends"]); got != 1 {
		t.Errorf("expected 1 append, got %d", got)
	}
	if got := sumOf(t, data["kairos.memory.conflicts"]); got != 1 {
		t.Errorf("expected 1 conflict, got %d", got)
	}
	if got := sumOf(t, data["kairos.mcp.sessions"]); got != 1 {
		t.Errorf("expected 1 open session, got %d", got)
	}
	hist, ok := data["kairos.backend.duration"].(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("expected one backend duration sample, got %#v", data["kairos.backend.duration"])
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.RecordRequest(ctx, "tool", "x")
	m.RecordError(ctx, errors.New(errors.CodeInternal, "boom", nil), "x")
	m.RecordBackendCall(ctx, "x", 500, time.Second)
	m.RecordAppend(ctx, "naive", false)
	m.RecordConflict(ctx, "optimistic")
	m.SessionOpened(ctx)
	m.SessionClosed(ctx)
	m.RecordBreakerState(ctx, "backend", 0)
}

func TestConcurrentMetrics(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				m.RecordRequest(ctx, "tool", "saveUserInfoToMemory")
				m.RecordError(ctx, errors.New(errors.CodeBackend, "backend request failed", nil), "backend")
				m.RecordBreakerState(ctx, "backend", int64((i+j)%3))
			}
		}(i)
	}
	wg.Wait()
}
