package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/kairos-memory/pkg/errors"
)

type stubCaller struct {
	tools    []mcp.Tool
	lastName string
	lastArgs map[string]any
	calls    int
	result   *mcp.CallToolResult
	err      error
}

func (s *stubCaller) ListTools(context.Context) ([]mcp.Tool, error) {
	return s.tools, nil
}

func (s *stubCaller) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.calls++
	s.lastName = name
	s.lastArgs = args
	return s.result, s.err
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}}}
}

func objectTool(name string, required ...string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		InputSchema: mcp.ToolInputSchema{Type: "object", Required: required},
	}
}

func TestInvoker_MapsStringInputToSingleRequiredField(t *testing.T) {
	caller := &stubCaller{
		tools:  []mcp.Tool{objectTool("getUrlContent", "url")},
		result: textResult("<html>"),
	}

	output, err := NewInvoker(caller).Invoke(context.Background(), "getUrlContent", "https://example.com")
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if output != "<html>" {
		t.Fatalf("Expected output '<html>', got %q", output)
	}
	if caller.lastName != "getUrlContent" {
		t.Fatalf("Expected tool name 'getUrlContent', got %q", caller.lastName)
	}
	if caller.lastArgs["url"] != "https://example.com" {
		t.Fatalf("Expected url arg, got %v", caller.lastArgs)
	}
}

func TestInvoker_ParsesJSONInput(t *testing.T) {
	caller := &stubCaller{
		tools:  []mcp.Tool{objectTool("executeCode", "code", "language")},
		result: textResult(`{"output":"2"}`),
	}

	output, err := NewInvoker(caller).Invoke(context.Background(), "executeCode", `{"code":"1+1","language":"python"}`)
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if output != `{"output":"2"}` {
		t.Fatalf("unexpected output %q", output)
	}
	if caller.lastArgs["code"] != "1+1" || caller.lastArgs["language"] != "python" {
		t.Fatalf("unexpected args %v", caller.lastArgs)
	}
}

func TestInvoker_ValidatesRequiredArgs(t *testing.T) {
	caller := &stubCaller{
		tools:  []mcp.Tool{objectTool("saveUserInfoToMemory", "statement", "userEmail")},
		result: textResult("ok"),
	}

	_, err := NewInvoker(caller).Invoke(context.Background(), "saveUserInfoToMemory", map[string]any{"statement": "likes tea"})
	if err == nil || !strings.Contains(err.Error(), "missing required field userEmail") {
		t.Fatalf("Expected missing required field error, got %v", err)
	}
	if !errors.Is(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	if caller.calls != 0 {
		t.Fatalf("invalid arguments reached the server")
	}
}

func TestInvoker_UnknownTool(t *testing.T) {
	caller := &stubCaller{tools: []mcp.Tool{objectTool("executeCode")}}

	_, err := NewInvoker(caller).Invoke(context.Background(), "nope", nil)
	if !errors.Is(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if !strings.Contains(err.Error(), "executeCode") {
		t.Fatalf("error should list offered tools: %v", err)
	}
}

func TestInvoker_ToolErrorResult(t *testing.T) {
	caller := &stubCaller{
		tools:  []mcp.Tool{objectTool("getRelevantDocs")},
		result: mcp.NewToolResultError("persona not found"),
	}

	_, err := NewInvoker(caller).Invoke(context.Background(), "getRelevantDocs", nil)
	if err == nil || !strings.Contains(err.Error(), "persona not found") {
		t.Fatalf("expected tool error text, got %v", err)
	}
}

func TestInvoker_ReturnsStructuredContent(t *testing.T) {
	caller := &stubCaller{
		tools:  []mcp.Tool{{Name: "structured"}},
		result: &mcp.CallToolResult{StructuredContent: map[string]any{"ok": true}},
	}

	output, err := NewInvoker(caller).Invoke(context.Background(), "structured", nil)
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if output != `{"ok":true}` {
		t.Fatalf("Expected structured payload, got %q", output)
	}
}

func TestParseArgs(t *testing.T) {
	args, err := ParseArgs([]string{"query=tea", "numDocs=3", `sources=["a","b"]`, "note=a=b"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if args["query"] != "tea" {
		t.Errorf("query: got %v", args["query"])
	}
	if args["numDocs"] != float64(3) {
		t.Errorf("numDocs: got %#v", args["numDocs"])
	}
	if s, ok := args["sources"].([]any); !ok || len(s) != 2 {
		t.Errorf("sources: got %#v", args["sources"])
	}
	if args["note"] != "a=b" {
		t.Errorf("note: got %v", args["note"])
	}

	if _, err := ParseArgs([]string{"novalue"}); !errors.Is(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}
