// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend talks to the experiments backend that owns storage,
// retrieval, URL normalisation and code execution.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-memory/pkg/core"
	"github.com/jllopis/kairos-memory/pkg/errors"
	"github.com/jllopis/kairos-memory/pkg/resilience"
	"github.com/jllopis/kairos-memory/pkg/telemetry"
)

// SecretHeader carries the shared secret on every request.
const SecretHeader = "X-API-SECRET"

// maxErrorBody bounds how much of a failed response ends up in error context.
const maxErrorBody = 512

var (
	// ErrRequestFailed is returned when the backend cannot be reached or answers 5xx.
	ErrRequestFailed = errors.New(errors.CodeBackend, "backend request failed", nil).WithRecoverable(true)

	// ErrUnauthorized is returned when the backend rejects the shared secret.
	ErrUnauthorized = errors.New(errors.CodeUnauthorized, "backend rejected credentials", nil)

	// ErrNotFound is returned for 404 answers.
	ErrNotFound = errors.New(errors.CodeNotFound, "backend resource not found", nil)

	// ErrConflict is returned for 409 answers.
	ErrConflict = errors.New(errors.CodeConflict, "backend reported a conflict", nil)

	// ErrBadRequest is returned for 400 and 422 answers.
	ErrBadRequest = errors.New(errors.CodeInvalidInput, "backend rejected the request", nil)

	// ErrRateLimited is returned for 429 answers.
	ErrRateLimited = errors.New(errors.CodeRateLimit, "backend rate limit exceeded", nil).WithRecoverable(true)

	// ErrTimeout is returned when the request context expires.
	ErrTimeout = errors.New(errors.CodeTimeout, "backend request timed out", nil).WithRecoverable(true)

	// ErrDecode is returned when a 2xx body cannot be decoded.
	ErrDecode = errors.New(errors.CodeBackend, "failed to decode backend response", nil)
)

// Request describes one backend call.
type Request struct {
	// Operation names the call in spans, metrics and errors.
	Operation string
	Method    string
	Path      string
	Query     url.Values
	// Body is JSON encoded when non-nil.
	Body any
}

// Response is a successful backend answer.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IsNull reports whether the body is empty or the JSON literal null.
func (r *Response) IsNull() bool {
	trimmed := bytes.TrimSpace(r.Body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return errors.Wrap(ErrDecode, err)
	}
	return nil
}

// Client is the authenticated HTTP transport to the backend.
// It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	secret     string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *resilience.Breaker
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every request. Zero leaves only the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithBreaker protects calls with a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// WithMetrics records call latency.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client for baseURL authenticated with secret.
func NewClient(baseURL, secret string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New(errors.CodeInvalidInput, "backend url must be an absolute http(s) URL", err).
			WithContext("url", baseURL)
	}
	c := &Client{
		baseURL:    u,
		secret:     secret,
		httpClient: &http.Client{},
		timeout:    30 * time.Second,
		tracer:     telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IsBreakerFailure reports whether err should count against the circuit
// breaker. Only transport failures and 5xx answers do; client errors such as
// conflicts or missing resources say nothing about backend health.
func IsBreakerFailure(err error) bool {
	switch errors.CodeOf(err) {
	case errors.CodeBackend, errors.CodeTimeout:
		return true
	default:
		return false
	}
}

// Do performs req and returns the 2xx answer, or a *errors.KairosError.
// Calls are never retried here.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "backend."+req.Operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var resp *Response
	call := func() error {
		var err error
		resp, err = c.do(ctx, req)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call()
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	} else if ke := errors.AsKairosError(err); ke != nil {
		if s, ok := ke.Context["status"].(int); ok {
			status = s
		}
	}
	span.SetAttributes(telemetry.BackendAttributes(req.Operation, req.Method, status)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

// DoJSON performs req and decodes a JSON answer into out. A null body leaves out untouched.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || resp.IsNull() {
		return nil
	}
	return resp.Decode(out)
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.RecordBackendCall(ctx, req.Operation, 0, time.Since(start))
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrap(ErrTimeout, err).WithContext("operation", req.Operation)
		}
		return nil, errors.Wrap(ErrRequestFailed, err).WithContext("operation", req.Operation)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	c.metrics.RecordBackendCall(ctx, req.Operation, httpResp.StatusCode, time.Since(start))
	if err != nil {
		return nil, errors.Wrap(ErrRequestFailed, err).WithContext("operation", req.Operation)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, statusError(req.Operation, httpResp.StatusCode, body)
	}
	return &Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := c.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "failed to encode backend request", err).
				WithContext("operation", req.Operation)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to create backend request", err)
	}
	httpReq.Header.Set(SecretHeader, c.secret)
	httpReq.Header.Set("Accept", "application/json, text/plain")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))
	return httpReq, nil
}

func statusError(operation string, status int, body []byte) *errors.KairosError {
	var sentinel *errors.KairosError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = ErrUnauthorized
	case status == http.StatusNotFound:
		sentinel = ErrNotFound
	case status == http.StatusConflict:
		sentinel = ErrConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		sentinel = ErrBadRequest
	case status == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	default:
		sentinel = ErrRequestFailed
	}

	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	ke := errors.Wrap(sentinel, fmt.Errorf("status %d", status)).
		WithContext("operation", operation).
		WithContext("status", status)
	if text != "" {
		ke.WithContext("body", text)
	}
	return ke
}

// HealthChecker probes the backend base URL. Any HTTP answer below 500 means
// the backend is reachable; an open breaker reports degraded.
func (c *Client) HealthChecker() core.HealthChecker {
	return core.HealthCheckerFunc(func(ctx context.Context) core.HealthResult {
		if c.breaker != nil && c.breaker.State() == resilience.StateOpen {
			return core.HealthResult{Status: core.HealthDegraded, Message: "circuit breaker open"}
		}

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String(), nil)
		if err != nil {
			return core.HealthResult{Status: core.HealthUnhealthy, Error: err}
		}
		req.Header.Set(SecretHeader, c.secret)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return core.HealthResult{Status: core.HealthUnhealthy, Error: err}
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return core.HealthResult{Status: core.HealthDegraded, Message: fmt.Sprintf("backend answered %d", resp.StatusCode)}
		}
		return core.HealthResult{Status: core.HealthHealthy, Message: "reachable"}
	})
}
