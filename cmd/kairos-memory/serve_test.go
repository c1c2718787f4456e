// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/kairos-memory/pkg/backend"
	"github.com/jllopis/kairos-memory/pkg/config"
	"github.com/jllopis/kairos-memory/pkg/core"
	"github.com/jllopis/kairos-memory/pkg/errors"
	"github.com/jllopis/kairos-memory/pkg/kv"
	kmcp "github.com/jllopis/kairos-memory/pkg/mcp"
	"github.com/jllopis/kairos-memory/pkg/memory"
	"github.com/jllopis/kairos-memory/pkg/persona"
	"github.com/jllopis/kairos-memory/pkg/resilience"
	ktesting "github.com/jllopis/kairos-memory/pkg/testing"
)

const alice = "alice@example.com"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig loads a test-mode configuration pointed at the fake backend.
func testConfig(t *testing.T, b *ktesting.Backend, sets ...string) *config.Config {
	t.Helper()
	for _, name := range []string{"NODE_ENV", "PORT", "NODE_AI_EXPERIMENTS_SERVER_URL", "MCP_SECRET"} {
		t.Setenv(name, "")
	}
	args := []string{
		"--set", "mode=test",
		"--set", "backend.url=" + b.URL(),
		"--set", "backend.secret=" + ktesting.BackendSecret,
	}
	for _, s := range sets {
		args = append(args, "--set", s)
	}
	cfg, err := config.LoadWithCLI(args)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := buildApp(cfg, quietLogger(), nil)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func probeClient(t *testing.T, a *app) *kmcp.Client {
	t.Helper()
	return kmcp.NewClient(ktesting.NewInProcessClient(t, a.server.MCPServer()))
}

func TestBuildAppOverHTTPStore(t *testing.T) {
	b := ktesting.NewBackend(t)
	a := newTestApp(t, testConfig(t, b))
	if len(a.registered) != 7 {
		t.Fatalf("expected every handler registered, got %v", a.registered)
	}

	client := probeClient(t, a)
	ctx := context.Background()

	res, err := probe(ctx, client, probeOptions{
		Call: "saveUserInfoToMemory",
		Args: []string{"statement=likes tea", "userEmail=" + alice},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.Output != memory.SavedMessage {
		t.Fatalf("unexpected output %q", res.Output)
	}

	res, err = probe(ctx, client, probeOptions{Read: "users://alice%40example.com/memories"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.Output != `["likes tea"]` {
		t.Fatalf("unexpected memories %q", res.Output)
	}

	// Memories went through the backend key/value endpoint.
	if len(b.RequestsTo(http.MethodPost, "/json-data")) == 0 {
		t.Fatalf("expected writes to the backend, got %s", ktesting.FormatRequests(b.Requests()))
	}
}

func TestBuildAppSQLitePersists(t *testing.T) {
	b := ktesting.NewBackend(t)
	path := filepath.Join(t.TempDir(), "kv.db")
	cfg := testConfig(t, b, "kv.provider=sqlite", "kv.path="+path, "memory.append=optimistic")

	a, err := buildApp(cfg, quietLogger(), nil)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	client := kmcp.NewClient(ktesting.NewInProcessClient(t, a.server.MCPServer()))
	for _, statement := range []string{"likes tea", "lives in Lisbon"} {
		if _, err := probe(context.Background(), client, probeOptions{
			Call: "saveUserInfoToMemory",
			Args: []string{"statement=" + statement, "userEmail=" + alice},
		}); err != nil {
			t.Fatalf("save %q: %v", statement, err)
		}
	}
	a.Close()

	if n := len(b.RequestsTo(http.MethodPost, "/json-data")); n != 0 {
		t.Fatalf("sqlite store should not write to the backend, got %d writes", n)
	}

	store, err := kv.OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	got, err := memory.NewService(store).Statements(context.Background(), alice)
	if err != nil {
		t.Fatalf("statements: %v", err)
	}
	if len(got) != 2 || got[0] != "likes tea" || got[1] != "lives in Lisbon" {
		t.Fatalf("unexpected statements %v", got)
	}
}

func TestBuildAppRelevantDocsThroughBackend(t *testing.T) {
	b := ktesting.NewBackend(t).WithDocs(func(q backend.DocsQuery) ([]backend.Document, error) {
		return []backend.Document{{PageContent: q.CollectionName + ":" + q.Query}}, nil
	})
	a := newTestApp(t, testConfig(t, b))

	if _, err := kv.SetKey(context.Background(), b.Store(),
		persona.Key(memory.DefaultNamespace, alice, "p1"),
		map[string]any{"collectionName": "notes"}); err != nil {
		t.Fatalf("seed persona: %v", err)
	}

	res, err := probe(context.Background(), probeClient(t, a), probeOptions{
		Call: "getRelevantDocs",
		Args: []string{"query=tea", "personaId=p1", "userEmail=" + alice, "numDocs=2"},
	})
	if err != nil {
		t.Fatalf("docs: %v", err)
	}
	var docs []backend.Document
	if err := json.Unmarshal([]byte(res.Output), &docs); err != nil {
		t.Fatalf("decode %q: %v", res.Output, err)
	}
	if len(docs) != 1 || docs[0].PageContent != "notes:tea" {
		t.Fatalf("unexpected docs %+v", docs)
	}
	ktesting.NewAssertions(t).
		AssertRequest(&b.RequestsTo(http.MethodPost, backend.RelevantDocsPath)[0]).
		HasBodyField("numDocs", 2)
}

func TestBuildAppHandlerSubset(t *testing.T) {
	b := ktesting.NewBackend(t)
	a := newTestApp(t, testConfig(t, b, "handlers.enabled=executeCode,memory"))
	if len(a.registered) != 2 || a.registered[0] != "executeCode" || a.registered[1] != "memory" {
		t.Fatalf("unexpected handlers %v", a.registered)
	}

	res, err := listCatalogue(context.Background(), probeClient(t, a))
	if err != nil {
		t.Fatalf("catalogue: %v", err)
	}
	if len(res.Catalogue) != 2 {
		t.Fatalf("unexpected catalogue %+v", res.Catalogue)
	}
}

func TestBuildAppQdrantRetriever(t *testing.T) {
	b := ktesting.NewBackend(t)
	// Dialing is lazy, so an unreachable address still builds.
	a := newTestApp(t, testConfig(t, b, "retrieval.provider=qdrant", "retrieval.qdrant=127.0.0.1:1"))
	if len(a.closers) != 1 {
		t.Fatalf("expected the qdrant connection to be released on close, got %d closers", len(a.closers))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results, _ := a.health.CheckAll(ctx)
	components := map[string]core.HealthStatus{}
	for _, r := range results {
		components[r.Component] = r.Status
	}
	if components["backend"] != core.HealthHealthy {
		t.Errorf("backend should be healthy, got %v", components)
	}
	if _, ok := components["qdrant"]; !ok {
		t.Errorf("qdrant health not registered: %v", components)
	}
}

func TestBuildAppRejectsBadBackendURL(t *testing.T) {
	b := ktesting.NewBackend(t)
	cfg := testConfig(t, b)
	cfg.Backend.URL = "localhost:3000"
	if _, err := buildApp(cfg, quietLogger(), nil); !errors.Is(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestHealthEndpointReportsComponents(t *testing.T) {
	b := ktesting.NewBackend(t)
	a := newTestApp(t, testConfig(t, b, "kv.provider=sqlite", "kv.path="+filepath.Join(t.TempDir(), "kv.db")))

	handler, closeSessions := a.server.HTTPHandler(a.httpConfig())
	srv := httptest.NewServer(handler)
	defer srv.Close()
	defer closeSessions(context.Background())

	resp, err := http.Get(srv.URL + kmcp.HealthPath)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Status     core.HealthStatus   `json:"status"`
		Components []core.HealthResult `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != core.HealthHealthy || len(body.Components) != 2 {
		t.Fatalf("unexpected health %+v", body)
	}
}

func TestServeStdioStopsOnCancel(t *testing.T) {
	b := ktesting.NewBackend(t)
	a := newTestApp(t, testConfig(t, b, "server.transport=stdio"))

	in, w := io.Pipe()
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, in, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stdio server ignored cancellation")
	}
}

func TestBreakerGauge(t *testing.T) {
	tests := map[resilience.BreakerState]int64{
		resilience.StateClosed:   0,
		resilience.StateHalfOpen: 1,
		resilience.StateOpen:     2,
	}
	for state, want := range tests {
		if got := breakerGauge(state); got != want {
			t.Errorf("breakerGauge(%s) = %d, want %d", state, got, want)
		}
	}
}

func TestBuildAppWarnsOnOptimisticOverHTTP(t *testing.T) {
	b := ktesting.NewBackend(t)
	tests := []struct {
		name string
		sets []string
		warn bool
	}{
		{"optimistic over http", []string{"memory.append=optimistic", "kv.provider=http"}, true},
		{"locked over http", []string{"memory.append=locked", "kv.provider=http"}, false},
		{"optimistic over memory", []string{"memory.append=optimistic", "kv.provider=memory"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			a, err := buildApp(testConfig(t, b, tt.sets...), slog.New(slog.NewTextHandler(&buf, nil)), nil)
			if err != nil {
				t.Fatalf("build app: %v", err)
			}
			defer a.Close()
			if got := strings.Contains(buf.String(), "optimistic appends need a backend"); got != tt.warn {
				t.Fatalf("warning logged = %v, want %v; log:\n%s", got, tt.warn, buf.String())
			}
		})
	}
}
