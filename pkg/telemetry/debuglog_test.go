// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func readEntries(t *testing.T, path string) []DebugEntry {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open debug log: %v", err)
	}
	defer file.Close()

	var entries []DebugEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry DebugEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("invalid line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestDebugLogAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs.jsonl")
	log := NewDebugLog(path, true)
	ctx := context.Background()

	log.Record(ctx, DebugEntry{Kind: "tool", Handler: "saveUserInfoToMemory", Input: map[string]string{"statement": "likes tea"}})
	log.Record(ctx, DebugEntry{Kind: "tool", Handler: "saveUserInfoToMemory", Output: "Saved successfully."})

	entries := readEntries(t, path)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Output != "Saved successfully." {
		t.Errorf("unexpected output %v", entries[1].Output)
	}
	if entries[0].Timestamp.IsZero() {
		t.Errorf("expected timestamp to be set")
	}
}

func TestDebugLogDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.jsonl")
	NewDebugLog(path, false).Record(context.Background(), DebugEntry{Handler: "x"})

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("disabled debug log must not create %s", path)
	}

	var nilLog *DebugLog
	nilLog.Record(context.Background(), DebugEntry{Handler: "x"})
}

func TestDebugLogSwallowsWriteErrors(t *testing.T) {
	dir := t.TempDir()
	// A directory where the file should be makes every open fail.
	log := NewDebugLog(dir, true)
	log.Record(context.Background(), DebugEntry{Handler: "x"})
}

func TestDebugLogConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.jsonl")
	log := NewDebugLog(path, true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log.Record(context.Background(), DebugEntry{Kind: "tool", Handler: "executeCode", Input: i})
		}(i)
	}
	wg.Wait()

	if got := len(readEntries(t, path)); got != 20 {
		t.Fatalf("expected 20 entries, got %d", got)
	}
}
