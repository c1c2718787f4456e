// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"
)

func TestAdaptersRegistry(t *testing.T) {
	if len(adaptersRegistry) == 0 {
		t.Error("adapters registry should not be empty")
	}

	types := map[string]bool{}
	for _, a := range adaptersRegistry {
		types[a.Type] = true
	}

	for _, et := range []string{"kv", "retrieval", "transport", "telemetry"} {
		if !types[et] {
			t.Errorf("expected adapter type %q not found", et)
		}
	}
}

func TestAdapterHasRequiredFields(t *testing.T) {
	for _, a := range adaptersRegistry {
		if a.Name == "" {
			t.Error("adapter name should not be empty")
		}
		if a.Type == "" {
			t.Errorf("adapter %q type should not be empty", a.Name)
		}
		if a.Description == "" {
			t.Errorf("adapter %q description should not be empty", a.Name)
		}
		if len(a.ConfigKeys) == 0 {
			t.Errorf("adapter %q should name its config keys", a.Name)
		}
	}
}

func TestFilterAdaptersByType(t *testing.T) {
	filtered := filterAdapters(adaptersRegistry, "kv")
	if len(filtered) != 3 {
		t.Fatalf("expected 3 kv adapters, got %d", len(filtered))
	}
	for _, a := range filtered {
		if a.Type != "kv" {
			t.Errorf("filtered adapter %q has wrong type: %s", a.Name, a.Type)
		}
	}
	if got := filterAdapters(adaptersRegistry, ""); len(got) != len(adaptersRegistry) {
		t.Errorf("empty filter should keep everything")
	}
}

func TestFindAdaptersSharedName(t *testing.T) {
	found := findAdapters("http")
	if len(found) != 2 {
		t.Fatalf("expected the http store and transport, got %+v", found)
	}
	if len(findAdapters("nope")) != 0 {
		t.Fatalf("unknown adapters should not match")
	}
}
