// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/kairos-memory/pkg/backend"
	"github.com/jllopis/kairos-memory/pkg/errors"
	"github.com/jllopis/kairos-memory/pkg/kv"
)

func TestBackendServesJSONData(t *testing.T) {
	b := NewBackend(t)
	store := kv.NewHTTPStore(b.Client())
	ctx := context.Background()

	if _, err := kv.SetKey(ctx, store, "users/a/memories", []string{"likes tea"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := kv.GetKey[[]string](ctx, store, "users/a/memories")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || len(got.Value) != 1 || got.Value[0] != "likes tea" {
		t.Fatalf("unexpected value %+v", got)
	}

	rec, err := b.Store().Get(ctx, "users/a/memories")
	if err != nil || rec == nil {
		t.Fatalf("record not in backing store: %v", err)
	}

	a := NewAssertions(t)
	a.AssertLen(b.Requests(), 2, "captured requests")
	a.AssertRequest(b.LastRequest()).
		HasMethod(http.MethodGet).
		HasPath("/json-data").
		HasQuery("key", "users/a/memories").
		HasSecret(BackendSecret)
}

func TestBackendRejectsWrongSecret(t *testing.T) {
	b := NewBackend(t)
	c, err := backend.NewClient(b.URL(), "wrong")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	_, err = c.Do(context.Background(), backend.Request{Operation: "probe", Path: "/json-data"})
	if !errors.Is(err, errors.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
	if b.CallCount() != 1 {
		t.Fatalf("rejected requests are still captured")
	}
}

func TestBackendScriptedFailures(t *testing.T) {
	b := NewBackend(t).FailNext("/json-data", http.StatusBadGateway, "upstream down")
	store := kv.NewHTTPStore(b.Client())
	ctx := context.Background()

	if _, err := store.Get(ctx, "k"); !errors.Is(err, errors.CodeBackend) {
		t.Fatalf("expected scripted failure, got %v", err)
	}
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("failure should be consumed: %v", err)
	}

	b.ConflictNext(1)
	if _, err := store.SetIfVersion(ctx, "k", []byte(`[1]`), ""); !errors.Is(err, errors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := store.SetIfVersion(ctx, "k", []byte(`[1]`), ""); err != nil {
		t.Fatalf("second conditional write should pass: %v", err)
	}

	b.Reset()
	if b.CallCount() != 0 {
		t.Fatalf("reset should forget requests")
	}
}

func TestBackendExperiments(t *testing.T) {
	b := NewBackend(t).
		WithDocs(func(q backend.DocsQuery) ([]backend.Document, error) {
			return []backend.Document{{PageContent: q.CollectionName + ":" + q.Query}}, nil
		}).
		WithURLContent(func(rawURL, contentType string) (string, error) {
			return contentType + " " + rawURL, nil
		}).
		WithExecute(func(req backend.CodeRequest) (string, error) {
			if req.Language == backend.LangCPP {
				return "", fmt.Errorf("compiler missing")
			}
			return "ran " + req.Code, nil
		})
	c := b.Client()
	ctx := context.Background()

	docs, err := c.RelevantDocs(ctx, backend.DocsQuery{Query: "tea", CollectionName: "notes"})
	if err != nil || len(docs) != 1 || docs[0].PageContent != "notes:tea" {
		t.Fatalf("unexpected docs %+v, %v", docs, err)
	}

	text, err := c.URLContent(ctx, backend.URLQuery{URL: "https://example.com", Type: backend.ContentWebPage})
	if err != nil || text != "web_page https://example.com" {
		t.Fatalf("unexpected content %q, %v", text, err)
	}

	out, err := c.ExecuteCode(ctx, backend.CodeRequest{Code: "1", Language: backend.LangPython})
	if err != nil || out.Output != "ran 1" {
		t.Fatalf("unexpected output %+v, %v", out, err)
	}
	if _, err := c.ExecuteCode(ctx, backend.CodeRequest{Code: "1", Language: backend.LangCPP}); !errors.Is(err, errors.CodeBackend) {
		t.Fatalf("expected backend failure, got %v", err)
	}

	NewAssertions(t).AssertRequest(b.RequestsTo(http.MethodPost, backend.ExecuteCodePath)[0]).
		HasBodyField("language", "python").
		HasBodyField("code", "1")
}

func TestStringMatchers(t *testing.T) {
	tests := []struct {
		name    string
		matcher StringMatcher
		input   string
		match   bool
	}{
		{"contains match", Contains("world"), "hello world", true},
		{"contains no match", Contains("foo"), "hello world", false},
		{"equals match", Equals("hello"), "hello", true},
		{"equals no match", Equals("hello"), "Hello", false},
		{"prefix match", HasPrefix("hello"), "hello world", true},
		{"prefix no match", HasPrefix("world"), "hello world", false},
		{"regex match", Regex(`^\[.*\]$`), `["a"]`, true},
		{"bad regex", Regex(`(`), "(", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.matcher.Match(tc.input); got != tc.match {
				t.Errorf("expected match=%v, got %v", tc.match, got)
			}
		})
	}
}

// newScenarioServer exposes a tool per outcome plus one resource and one
// prompt. The fetch tool goes through the fake backend.
func newScenarioServer(b *Backend) *server.MCPServer {
	s := server.NewMCPServer("scenario-test", "0.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
	)
	s.AddTool(mcp.NewTool("echo", mcp.WithString("text", mcp.Required())),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(req.GetString("text", "")), nil
		})
	s.AddTool(mcp.NewTool("refuse"),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("not allowed"), nil
		})
	s.AddTool(mcp.NewTool("fetch", mcp.WithString("url", mcp.Required())),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text, err := b.Client().URLContent(ctx, backend.URLQuery{URL: req.GetString("url", "")})
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(text), nil
		})
	s.AddResourceTemplate(mcp.NewResourceTemplate("notes://{name}", "notes"),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return []mcp.ResourceContents{mcp.TextResourceContents{URI: req.Params.URI, Text: "note " + req.Params.URI}}, nil
		})
	s.AddPrompt(mcp.NewPrompt("greet", mcp.WithArgument("name", mcp.RequiredArgument())),
		func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			name := req.Params.Arguments["name"]
			if name == "" {
				return nil, fmt.Errorf("name is required")
			}
			return mcp.NewGetPromptResult("greeting", []mcp.PromptMessage{
				mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent("Hello "+name)),
			}), nil
		})
	return s
}

func TestScenarioSteps(t *testing.T) {
	b := NewBackend(t).WithURLContent(func(rawURL, _ string) (string, error) {
		return "page " + rawURL, nil
	})
	caller := NewInProcessClient(t, newScenarioServer(b))

	scenario := NewScenario("all surfaces").
		CallTool("echo", map[string]any{"text": "hi"}).
		ExpectNoError().
		ExpectOutput(Equals("hi")).
		CallTool("refuse", nil).
		ExpectToolError(Equals("not allowed")).
		ExpectError(Contains("allowed")).
		CallTool("fetch", map[string]any{"url": "https://example.com"}).
		ExpectOutput(Equals("page https://example.com")).
		ExpectBackendCalls(b, http.MethodGet, backend.URLContentPath, 1).
		ReadResource("notes://today").
		ExpectOutput(Contains("notes://today")).
		GetPrompt("greet", map[string]string{"name": "Ada"}).
		ExpectOutput(Equals("Hello Ada")).
		GetPrompt("greet", map[string]string{}).
		ExpectError(Contains("name is required"))

	result := scenario.Run(t, caller)
	result.Assert(t, scenario)

	a := NewAssertions(t)
	a.AssertLen(result.Steps, 6, "steps")
	if result.Error == nil {
		t.Fatalf("last step should carry the prompt error")
	}
}

func TestToolResultAssertions(t *testing.T) {
	a := NewAssertions(t)
	a.AssertToolResult(mcp.NewToolResultText(`{"output":"42"}`)).
		Succeeded().
		HasSingleText().
		TextContains("42")
	a.AssertToolResult(mcp.NewToolResultError("persona not found")).
		IsError().
		TextEquals("persona not found")
	if a.Failed() {
		t.Fatalf("assertions should pass")
	}

	out := DecodeText[backend.CodeResult](t, mcp.NewToolResultText(`{"output":"42"}`))
	RequireEqual(t, "42", out.Output, "decoded output")
}

func TestFormatRequests(t *testing.T) {
	RequireEqual(t, "(none)", FormatRequests(nil), "empty")
	got := FormatRequests([]Request{{Method: "GET", Path: "/json-data"}, {Method: "POST", Path: "/json-data"}})
	RequireEqual(t, "[GET /json-data, POST /json-data]", got, "formatted")
}
