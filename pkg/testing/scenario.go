// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing the memory server end to end.
//
// This package includes:
//   - Backend, an in-process stand-in for the experiments backend
//   - Scenario definitions that drive tools, resources and prompts
//   - Assertion helpers for protocol results and backend traffic
//
// Example usage:
//
//	scenario := testing.NewScenario("save then read").
//	    CallTool("saveUserInfoToMemory", map[string]any{"statement": "likes tea", "userEmail": "a@x.com"}).
//	    ExpectOutput(testing.Equals("Saved successfully.")).
//	    ReadResource("users://a%40x.com/memories").
//	    ExpectOutput(testing.Contains("likes tea"))
//
//	result := scenario.Run(t, caller)
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Caller issues protocol requests. *client.Client satisfies it.
type Caller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
}

// NewInProcessClient starts and initializes a client wired directly to s.
// The client is closed when the test ends.
func NewInProcessClient(t *testing.T, s *server.MCPServer) *client.Client {
	t.Helper()
	c, err := client.NewInProcessClient(s)
	if err != nil {
		t.Fatalf("in-process client: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start client: %v", err)
	}
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "kairos-memory-test", Version: "0.0.0"}
	if _, err := c.Initialize(ctx, req); err != nil {
		t.Fatalf("initialize client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// StepKind is the protocol surface a step exercises.
type StepKind string

const (
	StepTool     StepKind = "tool"
	StepResource StepKind = "resource"
	StepPrompt   StepKind = "prompt"
)

type step struct {
	kind         StepKind
	name         string
	toolArgs     map[string]any
	promptArgs   map[string]string
	expectations []Expectation
}

// Scenario is an ordered list of protocol calls, each with its own expectations.
type Scenario struct {
	name          string
	description   string
	context       context.Context
	timeout       time.Duration
	steps         []*step
	setupFuncs    []func() error
	teardownFuncs []func() error
}

// Expectation defines a condition to verify after a step.
type Expectation interface {
	// Check verifies the expectation against the step result.
	Check(result *StepResult) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// StepResult is the outcome of one protocol call.
type StepResult struct {
	Kind StepKind
	Name string
	// Output is the text of the single content block, resource or message.
	Output string
	// IsError is set when a tool answered with an error result.
	IsError bool
	// Error is a protocol level failure.
	Error    error
	Duration time.Duration
}

// Failed reports whether the step failed at either level.
func (r *StepResult) Failed() bool {
	return r.Error != nil || r.IsError
}

// ErrorText returns the protocol error or the tool error text.
func (r *StepResult) ErrorText() string {
	switch {
	case r.Error != nil:
		return r.Error.Error()
	case r.IsError:
		return r.Output
	default:
		return ""
	}
}

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Steps []StepResult
	// Output and Error mirror the last step.
	Output   string
	Error    error
	Duration time.Duration
}

// NewScenario creates a new test scenario with the given name.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		timeout: 30 * time.Second,
		context: context.Background(),
	}
}

// WithDescription adds a description to the scenario.
func (s *Scenario) WithDescription(desc string) *Scenario {
	s.description = desc
	return s
}

// WithContext sets the context for the scenario.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout bounds each step.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithSetup adds a setup function to run before the scenario.
func (s *Scenario) WithSetup(fn func() error) *Scenario {
	s.setupFuncs = append(s.setupFuncs, fn)
	return s
}

// WithTeardown adds a teardown function to run after the scenario.
func (s *Scenario) WithTeardown(fn func() error) *Scenario {
	s.teardownFuncs = append(s.teardownFuncs, fn)
	return s
}

// CallTool appends a tool call step.
func (s *Scenario) CallTool(name string, args map[string]any) *Scenario {
	s.steps = append(s.steps, &step{kind: StepTool, name: name, toolArgs: args})
	return s
}

// ReadResource appends a resource read step.
func (s *Scenario) ReadResource(uri string) *Scenario {
	s.steps = append(s.steps, &step{kind: StepResource, name: uri})
	return s
}

// GetPrompt appends a prompt step.
func (s *Scenario) GetPrompt(name string, args map[string]string) *Scenario {
	s.steps = append(s.steps, &step{kind: StepPrompt, name: name, promptArgs: args})
	return s
}

// Expect adds an expectation to the most recent step.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	if len(s.steps) == 0 {
		panic("testing: Expect called before any step")
	}
	last := s.steps[len(s.steps)-1]
	last.expectations = append(last.expectations, exp)
	return s
}

// ExpectOutput adds an output expectation.
func (s *Scenario) ExpectOutput(matcher StringMatcher) *Scenario {
	return s.Expect(&outputExpectation{matcher: matcher})
}

// ExpectNoError expects neither a protocol error nor a tool error result.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectError expects a failure whose text matches.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(&errorExpectation{matcher: matcher})
}

// ExpectToolError expects a tool error result, not a protocol error.
func (s *Scenario) ExpectToolError(matcher StringMatcher) *Scenario {
	return s.Expect(&toolErrorExpectation{matcher: matcher})
}

// ExpectBackendCalls expects b to have served exactly n requests to
// method and path once the step completes.
func (s *Scenario) ExpectBackendCalls(b *Backend, method, path string, n int) *Scenario {
	return s.Expect(&backendCallsExpectation{backend: b, method: method, path: path, count: n})
}

// ExpectMaxDuration expects the step to complete within the given duration.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// Run executes every step in order against caller.
func (s *Scenario) Run(t *testing.T, caller Caller) *ScenarioResult {
	t.Helper()

	for _, setup := range s.setupFuncs {
		if err := setup(); err != nil {
			t.Fatalf("scenario %q setup failed: %v", s.name, err)
		}
	}

	defer func() {
		for _, teardown := range s.teardownFuncs {
			if err := teardown(); err != nil {
				t.Errorf("scenario %q teardown failed: %v", s.name, err)
			}
		}
	}()

	result := &ScenarioResult{}
	start := time.Now()
	for _, st := range s.steps {
		sr := s.runStep(caller, st)
		// Expectations that look at shared state must see it right after the step.
		for _, exp := range st.expectations {
			if be, ok := exp.(*backendCallsExpectation); ok {
				be.observed = len(be.backend.RequestsTo(be.method, be.path))
				be.checked = true
			}
		}
		result.Steps = append(result.Steps, sr)
		result.Output, result.Error = sr.Output, sr.Error
	}
	result.Duration = time.Since(start)
	return result
}

func (s *Scenario) runStep(caller Caller, st *step) StepResult {
	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	sr := StepResult{Kind: st.kind, Name: st.name}
	start := time.Now()
	switch st.kind {
	case StepTool:
		req := mcp.CallToolRequest{}
		req.Params.Name = st.name
		req.Params.Arguments = st.toolArgs
		res, err := caller.CallTool(ctx, req)
		if err != nil {
			sr.Error = err
			break
		}
		sr.IsError = res.IsError
		sr.Output = ToolResultText(res)
	case StepResource:
		req := mcp.ReadResourceRequest{}
		req.Params.URI = st.name
		res, err := caller.ReadResource(ctx, req)
		if err != nil {
			sr.Error = err
			break
		}
		sr.Output = resourceText(res.Contents)
	case StepPrompt:
		req := mcp.GetPromptRequest{}
		req.Params.Name = st.name
		req.Params.Arguments = st.promptArgs
		res, err := caller.GetPrompt(ctx, req)
		if err != nil {
			sr.Error = err
			break
		}
		var parts []string
		for _, m := range res.Messages {
			parts = append(parts, mcp.GetTextFromContent(m.Content))
		}
		sr.Output = strings.Join(parts, "\n")
	}
	sr.Duration = time.Since(start)
	return sr
}

// Assert checks every step's expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()

	if len(r.Steps) != len(scenario.steps) {
		t.Fatalf("scenario %q: ran %d of %d steps", scenario.name, len(r.Steps), len(scenario.steps))
	}
	for i, st := range scenario.steps {
		for _, exp := range st.expectations {
			if err := exp.Check(&r.Steps[i]); err != nil {
				t.Errorf("step %d (%s %s): expectation %q failed: %v", i+1, st.kind, st.name, exp.Description(), err)
			}
		}
	}
}

// ToolResultText joins the text content blocks of res.
func ToolResultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		parts = append(parts, mcp.GetTextFromContent(c))
	}
	return strings.Join(parts, "\n")
}

func resourceText(contents []mcp.ResourceContents) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		switch v := c.(type) {
		case mcp.TextResourceContents:
			parts = append(parts, v.Text)
		case *mcp.TextResourceContents:
			parts = append(parts, v.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains returns a matcher that checks if the string contains the substring.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals returns a matcher that checks exact string equality.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex returns a matcher that checks against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{pattern: pattern}
}

// HasPrefix returns a matcher that checks if the string has the given prefix.
func HasPrefix(prefix string) StringMatcher {
	return &prefixMatcher{prefix: prefix}
}

type containsMatcher struct {
	substr string
}

func (m *containsMatcher) Match(s string) bool {
	return strings.Contains(s, m.substr)
}

func (m *containsMatcher) Description() string {
	return fmt.Sprintf("contains %q", m.substr)
}

type equalsMatcher struct {
	expected string
}

func (m *equalsMatcher) Match(s string) bool {
	return s == m.expected
}

func (m *equalsMatcher) Description() string {
	return fmt.Sprintf("equals %q", m.expected)
}

type regexMatcher struct {
	pattern string
}

func (m *regexMatcher) Match(s string) bool {
	re, err := regexp.Compile(m.pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func (m *regexMatcher) Description() string {
	return fmt.Sprintf("matches regex %q", m.pattern)
}

type prefixMatcher struct {
	prefix string
}

func (m *prefixMatcher) Match(s string) bool {
	return strings.HasPrefix(s, m.prefix)
}

func (m *prefixMatcher) Description() string {
	return fmt.Sprintf("has prefix %q", m.prefix)
}

// Expectation implementations

type outputExpectation struct {
	matcher StringMatcher
}

func (e *outputExpectation) Check(r *StepResult) error {
	if r.Error != nil {
		return fmt.Errorf("step failed: %v", r.Error)
	}
	if !e.matcher.Match(r.Output) {
		return fmt.Errorf("output %q does not match: %s", r.Output, e.matcher.Description())
	}
	return nil
}

func (e *outputExpectation) Description() string {
	return fmt.Sprintf("output %s", e.matcher.Description())
}

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *StepResult) error {
	if r.Failed() {
		return fmt.Errorf("expected no error, got: %s", r.ErrorText())
	}
	return nil
}

func (e *noErrorExpectation) Description() string {
	return "no error"
}

type errorExpectation struct {
	matcher StringMatcher
}

func (e *errorExpectation) Check(r *StepResult) error {
	if !r.Failed() {
		return fmt.Errorf("expected error matching %s, got success", e.matcher.Description())
	}
	if !e.matcher.Match(r.ErrorText()) {
		return fmt.Errorf("error %q does not match: %s", r.ErrorText(), e.matcher.Description())
	}
	return nil
}

func (e *errorExpectation) Description() string {
	return fmt.Sprintf("error %s", e.matcher.Description())
}

type toolErrorExpectation struct {
	matcher StringMatcher
}

func (e *toolErrorExpectation) Check(r *StepResult) error {
	if r.Error != nil {
		return fmt.Errorf("expected tool error result, got protocol error: %v", r.Error)
	}
	if !r.IsError {
		return fmt.Errorf("expected tool error result, got success %q", r.Output)
	}
	if !e.matcher.Match(r.Output) {
		return fmt.Errorf("tool error %q does not match: %s", r.Output, e.matcher.Description())
	}
	return nil
}

func (e *toolErrorExpectation) Description() string {
	return fmt.Sprintf("tool error %s", e.matcher.Description())
}

type backendCallsExpectation struct {
	backend  *Backend
	method   string
	path     string
	count    int
	observed int
	checked  bool
}

func (e *backendCallsExpectation) Check(*StepResult) error {
	if !e.checked {
		return fmt.Errorf("step did not run")
	}
	if e.observed != e.count {
		return fmt.Errorf("expected %d requests, backend served %d", e.count, e.observed)
	}
	return nil
}

func (e *backendCallsExpectation) Description() string {
	return fmt.Sprintf("%d backend requests to %s %s", e.count, e.method, e.path)
}

type maxDurationExpectation struct {
	max time.Duration
}

func (e *maxDurationExpectation) Check(r *StepResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("duration %v exceeds maximum %v", r.Duration, e.max)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string {
	return fmt.Sprintf("duration <= %v", e.max)
}
