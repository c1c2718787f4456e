// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

// Assertions provides assertion helpers for testing.
type Assertions struct {
	t      *testing.T
	failed bool
}

// NewAssertions creates a new assertions helper.
func NewAssertions(t *testing.T) *Assertions {
	return &Assertions{t: t}
}

// Failed returns true if any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

// AssertEqual asserts that two values are equal.
func (a *Assertions) AssertEqual(expected, actual any, msg string) {
	a.t.Helper()
	if expected != actual {
		a.t.Errorf("%s: expected %v, got %v", msg, expected, actual)
		a.failed = true
	}
}

// AssertTrue asserts that the value is true.
func (a *Assertions) AssertTrue(value bool, msg string) {
	a.t.Helper()
	if !value {
		a.t.Errorf("%s: expected true", msg)
		a.failed = true
	}
}

// AssertContains asserts that the string contains the substring.
func (a *Assertions) AssertContains(s, substr, msg string) {
	a.t.Helper()
	if !strings.Contains(s, substr) {
		a.t.Errorf("%s: %q does not contain %q", msg, s, substr)
		a.failed = true
	}
}

// AssertNoError asserts that the error is nil.
func (a *Assertions) AssertNoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.t.Errorf("%s: unexpected error: %v", msg, err)
		a.failed = true
	}
}

// AssertErrorContains asserts that the error message contains the substring.
func (a *Assertions) AssertErrorContains(err error, substr, msg string) {
	a.t.Helper()
	if err == nil {
		a.t.Errorf("%s: expected error containing %q, got nil", msg, substr)
		a.failed = true
		return
	}
	if !strings.Contains(err.Error(), substr) {
		a.t.Errorf("%s: error %q does not contain %q", msg, err.Error(), substr)
		a.failed = true
	}
}

// AssertLen asserts the length of a string, slice or map.
func (a *Assertions) AssertLen(value any, expected int, msg string) {
	a.t.Helper()
	var length int
	switch v := value.(type) {
	case string:
		length = len(v)
	case []any:
		length = len(v)
	case []string:
		length = len(v)
	case []Request:
		length = len(v)
	case []StepResult:
		length = len(v)
	case map[string]any:
		length = len(v)
	default:
		a.t.Errorf("%s: cannot get length of %T", msg, value)
		a.failed = true
		return
	}
	if length != expected {
		a.t.Errorf("%s: expected length %d, got %d", msg, expected, length)
		a.failed = true
	}
}

// RequestAssertions checks one request captured by the fake backend.
type RequestAssertions struct {
	*Assertions
	req *Request
}

// AssertRequest creates request assertions for the given request.
func (a *Assertions) AssertRequest(req *Request) *RequestAssertions {
	a.t.Helper()
	if req == nil {
		a.t.Error("request is nil")
		a.failed = true
		return &RequestAssertions{Assertions: a, req: &Request{}}
	}
	return &RequestAssertions{Assertions: a, req: req}
}

// HasMethod asserts the HTTP method.
func (r *RequestAssertions) HasMethod(method string) *RequestAssertions {
	r.t.Helper()
	if r.req.Method != method {
		r.t.Errorf("expected method %s, got %s", method, r.req.Method)
		r.failed = true
	}
	return r
}

// HasPath asserts the URL path.
func (r *RequestAssertions) HasPath(path string) *RequestAssertions {
	r.t.Helper()
	if r.req.Path != path {
		r.t.Errorf("expected path %s, got %s", path, r.req.Path)
		r.failed = true
	}
	return r
}

// HasSecret asserts the shared secret header.
func (r *RequestAssertions) HasSecret(secret string) *RequestAssertions {
	r.t.Helper()
	if r.req.Secret != secret {
		r.t.Errorf("expected secret %q, got %q", secret, r.req.Secret)
		r.failed = true
	}
	return r
}

// HasQuery asserts a query parameter value.
func (r *RequestAssertions) HasQuery(key, value string) *RequestAssertions {
	r.t.Helper()
	if got := r.req.Query.Get(key); got != value {
		r.t.Errorf("expected query %s=%q, got %q", key, value, got)
		r.failed = true
	}
	return r
}

// LacksQuery asserts a query parameter is absent.
func (r *RequestAssertions) LacksQuery(key string) *RequestAssertions {
	r.t.Helper()
	if r.req.Query.Has(key) {
		r.t.Errorf("expected no query %s, got %q", key, r.req.Query.Get(key))
		r.failed = true
	}
	return r
}

// HasBodyField asserts a top level JSON body member equals value once both
// are JSON encoded.
func (r *RequestAssertions) HasBodyField(field string, value any) *RequestAssertions {
	r.t.Helper()
	var body map[string]json.RawMessage
	if err := json.Unmarshal(r.req.Body, &body); err != nil {
		r.t.Errorf("request body is not a JSON object: %v", err)
		r.failed = true
		return r
	}
	got, ok := body[field]
	if !ok {
		r.t.Errorf("body has no member %q", field)
		r.failed = true
		return r
	}
	want, err := json.Marshal(value)
	if err != nil {
		r.t.Errorf("cannot encode expected value: %v", err)
		r.failed = true
		return r
	}
	if !jsonEqual(got, want) {
		r.t.Errorf("body member %q: expected %s, got %s", field, want, got)
		r.failed = true
	}
	return r
}

// LacksBodyField asserts a top level JSON body member is absent.
func (r *RequestAssertions) LacksBodyField(field string) *RequestAssertions {
	r.t.Helper()
	var body map[string]json.RawMessage
	if err := json.Unmarshal(r.req.Body, &body); err != nil {
		r.t.Errorf("request body is not a JSON object: %v", err)
		r.failed = true
		return r
	}
	if got, ok := body[field]; ok {
		r.t.Errorf("expected no body member %q, got %s", field, got)
		r.failed = true
	}
	return r
}

// ToolResultAssertions checks a tool call result.
type ToolResultAssertions struct {
	*Assertions
	res *mcp.CallToolResult
}

// AssertToolResult creates assertions for res.
func (a *Assertions) AssertToolResult(res *mcp.CallToolResult) *ToolResultAssertions {
	a.t.Helper()
	if res == nil {
		a.t.Error("tool result is nil")
		a.failed = true
		return &ToolResultAssertions{Assertions: a, res: &mcp.CallToolResult{}}
	}
	return &ToolResultAssertions{Assertions: a, res: res}
}

// Succeeded asserts the result is not an error result.
func (r *ToolResultAssertions) Succeeded() *ToolResultAssertions {
	r.t.Helper()
	if r.res.IsError {
		r.t.Errorf("expected success, got error result %q", ToolResultText(r.res))
		r.failed = true
	}
	return r
}

// IsError asserts the result is an error result.
func (r *ToolResultAssertions) IsError() *ToolResultAssertions {
	r.t.Helper()
	if !r.res.IsError {
		r.t.Errorf("expected error result, got %q", ToolResultText(r.res))
		r.failed = true
	}
	return r
}

// HasSingleText asserts the result carries exactly one content block.
func (r *ToolResultAssertions) HasSingleText() *ToolResultAssertions {
	r.t.Helper()
	if len(r.res.Content) != 1 {
		r.t.Errorf("expected one content block, got %d", len(r.res.Content))
		r.failed = true
		return r
	}
	if _, ok := mcp.AsTextContent(r.res.Content[0]); !ok {
		r.t.Errorf("expected text content, got %T", r.res.Content[0])
		r.failed = true
	}
	return r
}

// TextEquals asserts the result text.
func (r *ToolResultAssertions) TextEquals(expected string) *ToolResultAssertions {
	r.t.Helper()
	if got := ToolResultText(r.res); got != expected {
		r.t.Errorf("expected text %q, got %q", expected, got)
		r.failed = true
	}
	return r
}

// TextContains asserts the result text contains substr.
func (r *ToolResultAssertions) TextContains(substr string) *ToolResultAssertions {
	r.t.Helper()
	if got := ToolResultText(r.res); !strings.Contains(got, substr) {
		r.t.Errorf("text %q does not contain %q", got, substr)
		r.failed = true
	}
	return r
}

// ScenarioResultAssertions provides assertions for scenario results.
type ScenarioResultAssertions struct {
	*Assertions
	result *ScenarioResult
}

// AssertScenarioResult creates assertions for a scenario result.
func (a *Assertions) AssertScenarioResult(result *ScenarioResult) *ScenarioResultAssertions {
	a.t.Helper()
	if result == nil {
		a.t.Error("scenario result is nil")
		a.failed = true
		return &ScenarioResultAssertions{Assertions: a, result: &ScenarioResult{}}
	}
	return &ScenarioResultAssertions{Assertions: a, result: result}
}

// Succeeded asserts every step completed without error.
func (s *ScenarioResultAssertions) Succeeded() *ScenarioResultAssertions {
	s.t.Helper()
	for i, st := range s.result.Steps {
		if st.Failed() {
			s.t.Errorf("step %d (%s %s) failed: %s", i+1, st.Kind, st.Name, st.ErrorText())
			s.failed = true
		}
	}
	return s
}

// OutputContains asserts the last output contains the substring.
func (s *ScenarioResultAssertions) OutputContains(substr string) *ScenarioResultAssertions {
	s.t.Helper()
	if !strings.Contains(s.result.Output, substr) {
		s.t.Errorf("output %q does not contain %q", s.result.Output, substr)
		s.failed = true
	}
	return s
}

// OutputEquals asserts the last output equals the expected string.
func (s *ScenarioResultAssertions) OutputEquals(expected string) *ScenarioResultAssertions {
	s.t.Helper()
	if s.result.Output != expected {
		s.t.Errorf("expected output %q, got %q", expected, s.result.Output)
		s.failed = true
	}
	return s
}

// Quick assertion functions for common patterns

// RequireNoError fails the test immediately if err is not nil.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// RequireEqual fails the test immediately if values are not equal.
func RequireEqual(t *testing.T, expected, actual any, msg string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// DecodeText unmarshals the JSON text of a tool result.
func DecodeText[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	var out T
	text := ToolResultText(res)
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("decode tool result %q: %v", text, err)
	}
	return out
}

// FormatRequests formats captured requests for error messages.
func FormatRequests(reqs []Request) string {
	if len(reqs) == 0 {
		return "(none)"
	}
	lines := make([]string, len(reqs))
	for i, r := range reqs {
		lines[i] = r.Method + " " + r.Path
	}
	return fmt.Sprintf("[%s]", strings.Join(lines, ", "))
}

func jsonEqual(a, b []byte) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	ja, _ := json.Marshal(va)
	jb, _ := json.Marshal(vb)
	return string(ja) == string(jb)
}
