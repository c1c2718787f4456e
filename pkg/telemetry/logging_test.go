// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/jllopis/kairos-memory/pkg/core"
)

func TestConfigureSlogJSONWithTrace(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "info", "json")

	shutdown, err := Init("test-service", "v0.0.1")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer shutdown(context.Background())

	ctx, span := Tracer().Start(context.Background(), "log.span")
	logger.InfoContext(ctx, "hello", "handler", "executeCode")
	span.End()

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if record["handler"] != "executeCode" {
		t.Errorf("missing handler attribute: %v", record)
	}
	if record["trace_id"] == nil || record["span_id"] == nil {
		t.Errorf("expected trace and span ids, got %v", record)
	}
}

func TestSetLogLevel(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "warn", "text")

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}

	SetLogLevel("debug")
	if LogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", LogLevel())
	}
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("expected debug record after level change, got %q", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		" error ": slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigureSlogAddsCallID(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "info", "json")

	ctx := core.WithCallID(context.Background(), "call-1")
	logger.InfoContext(ctx, "first")
	logger.InfoContext(ctx, "second", "call_id", "explicit")
	logger.Info("third")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 records, got %q", buf.String())
	}
	want := []any{"call-1", "explicit", nil}
	for i, line := range lines {
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if record["call_id"] != want[i] {
			t.Errorf("record %d: call_id = %v, want %v", i, record["call_id"], want[i])
		}
	}
}
