// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/jllopis/kairos-memory/pkg/backend"
	"github.com/jllopis/kairos-memory/pkg/errors"
	"github.com/jllopis/kairos-memory/pkg/handlers"
	ktesting "github.com/jllopis/kairos-memory/pkg/testing"
)

func TestParseProbeFlags(t *testing.T) {
	opts, err := parseProbeFlags([]string{"--transport", "http", "--url", "http://h/mcp", "--call", "executeCode", "code=1", "language=python"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Transport != "http" || opts.URL != "http://h/mcp" || opts.Call != "executeCode" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if len(opts.Args) != 2 {
		t.Fatalf("unexpected args %v", opts.Args)
	}

	opts, err = parseProbeFlags(nil)
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if opts.URL != defaultProbeURL || opts.Transport != "sse" {
		t.Fatalf("unexpected defaults %+v", opts)
	}
}

func TestParseProbeFlagsErrors(t *testing.T) {
	tests := map[string][]string{
		"exclusive actions":   {"--call", "a", "--read", "b"},
		"stray args":          {"extra"},
		"stdio needs command": {"--transport", "stdio"},
		"unknown transport":   {"--transport", "ws"},
		"unknown flag":        {"--bogus"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := parseProbeFlags(args); err == nil {
				t.Fatalf("expected error for %v", args)
			}
		})
	}
}

func TestPromptArgs(t *testing.T) {
	args, err := promptArgs([]string{"userEmail=a@example.com", "note=x=y"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if args["userEmail"] != "a@example.com" || args["note"] != "x=y" {
		t.Fatalf("unexpected args %v", args)
	}
	if _, err := promptArgs([]string{"=v"}); !errors.Is(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestProbePromptAndCatalogue(t *testing.T) {
	b := ktesting.NewBackend(t)
	a := newTestApp(t, testConfig(t, b))
	client := probeClient(t, a)
	ctx := context.Background()

	res, err := probe(ctx, client, probeOptions{})
	if err != nil {
		t.Fatalf("catalogue: %v", err)
	}
	kinds := map[string]int{}
	for _, e := range res.Catalogue {
		kinds[e.Kind]++
	}
	if kinds["tool"] != 4 || kinds["resource"] != 1 || kinds["prompt"] != 2 {
		t.Fatalf("unexpected catalogue %+v", res.Catalogue)
	}
	for _, e := range res.Catalogue {
		if e.Kind == "resource" && e.Description != handlers.UserMemoriesTemplate {
			t.Errorf("resource should show its template, got %q", e.Description)
		}
	}

	res, err = probe(ctx, client, probeOptions{Prompt: "memory", Args: []string{"userEmail=" + alice}})
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if !strings.HasPrefix(res.Output, "[user] ") || !strings.Contains(res.Output, alice) {
		t.Fatalf("unexpected prompt output %q", res.Output)
	}
}

func TestProbeCallRejectsMissingArguments(t *testing.T) {
	b := ktesting.NewBackend(t)
	a := newTestApp(t, testConfig(t, b))

	_, err := probe(context.Background(), probeClient(t, a), probeOptions{
		Call: "executeCode",
		Args: []string{"code=print(1)"},
	})
	if !errors.Is(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT before any call, got %v", err)
	}
	if n := len(b.RequestsTo(http.MethodPost, backend.ExecuteCodePath)); n != 0 {
		t.Fatalf("backend should not be called, got %d", n)
	}
}

func TestProbeToolErrorResult(t *testing.T) {
	b := ktesting.NewBackend(t)
	a := newTestApp(t, testConfig(t, b))

	_, err := probe(context.Background(), probeClient(t, a), probeOptions{
		Call: "getRelevantDocs",
		Args: []string{"query=tea", "personaId=missing", "userEmail=" + alice},
	})
	if err == nil || !strings.Contains(err.Error(), "persona not found") {
		t.Fatalf("expected persona not found, got %v", err)
	}
}
