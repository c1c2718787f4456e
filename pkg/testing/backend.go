// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/jllopis/kairos-memory/pkg/backend"
	"github.com/jllopis/kairos-memory/pkg/errors"
	"github.com/jllopis/kairos-memory/pkg/kv"
)

// BackendSecret is the shared secret the fake backend accepts.
const BackendSecret = "test-secret"

// Request records one call received by the fake backend.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Secret string
	Body   []byte
}

// DecodeBody unmarshals the recorded JSON body into out.
func (r Request) DecodeBody(out any) error {
	return json.Unmarshal(r.Body, out)
}

type scriptedFailure struct {
	status int
	body   string
}

// Backend is an in-process stand-in for the experiments backend. It serves
// the json-data API from a kv.InMemoryStore and answers the experiments
// endpoints with scripted responders. Every request is captured.
type Backend struct {
	t      *testing.T
	server *httptest.Server
	store  *kv.InMemoryStore

	mu        sync.Mutex
	requests  []Request
	failures  map[string][]scriptedFailure
	conflicts int
	onDocs    func(q backend.DocsQuery) ([]backend.Document, error)
	onURL     func(rawURL, contentType string) (string, error)
	onExecute func(req backend.CodeRequest) (string, error)
	onRequest func(r Request)
}

// NewBackend starts a fake backend that is closed when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		t:        t,
		store:    kv.NewInMemoryStore(),
		failures: make(map[string][]scriptedFailure),
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

// URL returns the base URL of the fake backend.
func (b *Backend) URL() string {
	return b.server.URL
}

// Store exposes the records behind /json-data for seeding and inspection.
func (b *Backend) Store() *kv.InMemoryStore {
	return b.store
}

// Client returns a backend client authenticated with BackendSecret.
func (b *Backend) Client(opts ...backend.Option) *backend.Client {
	b.t.Helper()
	c, err := backend.NewClient(b.URL(), BackendSecret, opts...)
	if err != nil {
		b.t.Fatalf("backend client: %v", err)
	}
	return c
}

// WithDocs sets the responder for relevant document queries.
func (b *Backend) WithDocs(fn func(q backend.DocsQuery) ([]backend.Document, error)) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDocs = fn
	return b
}

// WithURLContent sets the responder for URL content requests.
func (b *Backend) WithURLContent(fn func(rawURL, contentType string) (string, error)) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onURL = fn
	return b
}

// WithExecute sets the responder for code execution requests.
func (b *Backend) WithExecute(fn func(req backend.CodeRequest) (string, error)) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onExecute = fn
	return b
}

// OnRequest registers a hook called, outside the lock, before each request
// is served. Tests use it to interleave writers.
func (b *Backend) OnRequest(fn func(r Request)) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRequest = fn
	return b
}

// FailNext makes the next request to path answer status.
func (b *Backend) FailNext(path string, status int, body string) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[path] = append(b.failures[path], scriptedFailure{status: status, body: body})
	return b
}

// ConflictNext makes the next n conditional writes answer 409 without
// touching the store.
func (b *Backend) ConflictNext(n int) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conflicts = n
	return b
}

// Requests returns every captured request.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Request, len(b.requests))
	copy(out, b.requests)
	return out
}

// RequestsTo returns captured requests for method and path.
func (b *Backend) RequestsTo(method, path string) []Request {
	var out []Request
	for _, r := range b.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// LastRequest returns the most recent request, or nil.
func (b *Backend) LastRequest() *Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return nil
	}
	r := b.requests[len(b.requests)-1]
	return &r
}

// CallCount returns the number of requests served.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

// Reset forgets captured requests and scripted failures.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = b.requests[:0]
	b.failures = make(map[string][]scriptedFailure)
	b.conflicts = 0
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Secret: r.Header.Get(backend.SecretHeader),
		Body:   body,
	}

	b.mu.Lock()
	b.requests = append(b.requests, req)
	hook := b.onRequest
	var failure *scriptedFailure
	if queue := b.failures[req.Path]; len(queue) > 0 {
		failure = &queue[0]
		b.failures[req.Path] = queue[1:]
	}
	b.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if req.Secret != BackendSecret {
		http.Error(w, "invalid secret", http.StatusUnauthorized)
		return
	}
	if failure != nil {
		http.Error(w, failure.body, failure.status)
		return
	}

	ctx := r.Context()
	switch {
	case req.Path == "/json-data" && req.Method == http.MethodGet:
		rec, err := b.store.Get(ctx, req.Query.Get("key"))
		b.reply(w, rec, err)
	case req.Path == "/json-data" && req.Method == http.MethodPost:
		b.serveSet(ctx, w, body)
	case req.Path == "/json-data" && req.Method == http.MethodDelete:
		b.reply(w, nil, b.store.Delete(ctx, req.Query.Get("key")))
	case req.Path == "/json-data/key-like" && req.Method == http.MethodGet:
		recs, err := b.store.GetLike(ctx, req.Query.Get("key"))
		b.reply(w, recs, err)
	case req.Path == "/json-data/key-like" && req.Method == http.MethodDelete:
		b.reply(w, nil, b.store.DeleteLike(ctx, req.Query.Get("key")))
	case req.Path == "/json-data/bulk" && req.Method == http.MethodPost:
		var in struct {
			Data []kv.Entry `json:"data"`
		}
		if err := json.Unmarshal(body, &in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.reply(w, nil, b.store.CreateMany(ctx, in.Data))
	case req.Path == backend.RelevantDocsPath && req.Method == http.MethodPost:
		b.serveDocs(w, body)
	case req.Path == backend.URLContentPath && req.Method == http.MethodGet:
		b.serveURLContent(w, req.Query)
	case req.Path == backend.ExecuteCodePath && req.Method == http.MethodPost:
		b.serveExecute(w, body)
	default:
		http.NotFound(w, r)
	}
}

// serveSet treats a body carrying a "version" member, even null, as a
// conditional write.
func (b *Backend) serveSet(ctx context.Context, w http.ResponseWriter, body []byte) {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(body, &in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var key string
	if err := json.Unmarshal(in["key"], &key); err != nil {
		http.Error(w, "key must be a string", http.StatusBadRequest)
		return
	}

	rawVersion, conditional := in["version"]
	if !conditional {
		rec, err := b.store.Set(ctx, key, in["value"])
		b.reply(w, rec, err)
		return
	}

	b.mu.Lock()
	forced := b.conflicts > 0
	if forced {
		b.conflicts--
	}
	b.mu.Unlock()
	if forced {
		http.Error(w, "version conflict", http.StatusConflict)
		return
	}

	var version kv.Version
	if err := json.Unmarshal(rawVersion, &version); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := b.store.SetIfVersion(ctx, key, in["value"], version)
	b.reply(w, rec, err)
}

func (b *Backend) serveDocs(w http.ResponseWriter, body []byte) {
	var q backend.DocsQuery
	if err := json.Unmarshal(body, &q); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	fn := b.onDocs
	b.mu.Unlock()

	docs := []backend.Document{}
	if fn != nil {
		var err error
		if docs, err = fn(q); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, docs)
}

func (b *Backend) serveURLContent(w http.ResponseWriter, query url.Values) {
	b.mu.Lock()
	fn := b.onURL
	b.mu.Unlock()
	if fn == nil {
		http.Error(w, "no content", http.StatusNotFound)
		return
	}
	text, err := fn(query.Get("url"), query.Get("type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, text)
}

func (b *Backend) serveExecute(w http.ResponseWriter, body []byte) {
	var req backend.CodeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	fn := b.onExecute
	b.mu.Unlock()
	if fn == nil {
		http.Error(w, "executor unavailable", http.StatusServiceUnavailable)
		return
	}
	output, err := fn(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, backend.CodeResult{Output: output})
}

func (b *Backend) reply(w http.ResponseWriter, v any, err error) {
	switch {
	case err == nil:
		writeJSON(w, v)
	case errors.Is(err, errors.CodeConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, errors.CodeInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}
