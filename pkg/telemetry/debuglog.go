// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugEntry is one line of the development debug log.
type DebugEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Handler   string    `json:"handler"`
	SessionID string    `json:"sessionId,omitempty"`
	CallID    string    `json:"callId,omitempty"`
	Input     any       `json:"input,omitempty"`
	Output    any       `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// DebugLog appends handler traffic as JSON lines to a local file.
// It is only active in development mode; a nil or disabled DebugLog is a no-op.
// Write failures are logged and never returned to callers.
type DebugLog struct {
	mu      sync.Mutex
	path    string
	enabled bool
	now     func() time.Time
}

// NewDebugLog creates a debug log writing to path when enabled is true.
func NewDebugLog(path string, enabled bool) *DebugLog {
	return &DebugLog{
		path:    path,
		enabled: enabled && path != "",
		now:     time.Now,
	}
}

// Enabled reports whether entries are written.
func (d *DebugLog) Enabled() bool {
	return d != nil && d.enabled
}

// Record appends entry to the file, stamping it when Timestamp is zero.
func (d *DebugLog) Record(ctx context.Context, entry DebugEntry) {
	if !d.Enabled() {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = d.now().UTC()
	}
	if err := d.append(entry); err != nil {
		slog.WarnContext(ctx, "debug log write failed", "path", d.path, "error", err)
	}
}

func (d *DebugLog) append(entry DebugEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dir := filepath.Dir(d.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	file, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewEncoder(file).Encode(entry)
}
