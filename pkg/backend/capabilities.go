// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"slices"

	"github.com/jllopis/kairos-memory/pkg/errors"
)

// Document is one retrieved snippet. Metadata is passed through untouched.
type Document struct {
	PageContent string         `json:"pageContent"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DocsQuery asks for the documents most relevant to Query in a collection.
type DocsQuery struct {
	Query          string   `json:"query"`
	CollectionName string   `json:"collectionName"`
	NumDocs        *int     `json:"numDocs,omitempty"`
	Sources        []string `json:"sources,omitempty"`
}

// Retriever returns documents relevant to a query. Ranking is the
// implementation's concern; callers pass results through.
type Retriever interface {
	RelevantDocs(ctx context.Context, q DocsQuery) ([]Document, error)
}

// ContentType hints how the backend should normalise a URL.
type ContentType string

const (
	ContentPDF         ContentType = "pdf"
	ContentGoogleDoc   ContentType = "google_doc"
	ContentGoogleSheet ContentType = "google_sheet"
	ContentWebPage     ContentType = "web_page"
	ContentYouTube     ContentType = "youtube_video"
	ContentImage       ContentType = "image"
)

// ContentTypes lists every accepted ContentType.
var ContentTypes = []ContentType{
	ContentPDF, ContentGoogleDoc, ContentGoogleSheet, ContentWebPage, ContentYouTube, ContentImage,
}

// Valid reports whether t is empty or one of ContentTypes.
func (t ContentType) Valid() bool {
	return t == "" || slices.Contains(ContentTypes, t)
}

// URLQuery asks for the normalised text of URL. An empty Type lets the backend infer it.
type URLQuery struct {
	URL  string
	Type ContentType
}

// ContentFetcher returns the normalised text content of a URL.
type ContentFetcher interface {
	URLContent(ctx context.Context, q URLQuery) (string, error)
}

// Language selects the code execution runtime.
type Language string

const (
	LangNode       Language = "node"
	LangJavaScript Language = "javascript"
	LangPython     Language = "python"
	LangTypeScript Language = "typescript"
	LangCPP        Language = "cpp"
	// LangUnknown is the sentinel callers send when they cannot tell the
	// language. It is always rejected.
	LangUnknown Language = "unknown"
)

// Languages lists every accepted Language value, including the sentinel.
var Languages = []Language{LangNode, LangJavaScript, LangPython, LangTypeScript, LangCPP, LangUnknown}

// ErrUnsupportedLanguage is returned before any network call for LangUnknown.
var ErrUnsupportedLanguage = errors.New(errors.CodeUnsupported, "This programming language is not supported", nil)

// CodeRequest is a snippet to run.
type CodeRequest struct {
	Code     string   `json:"code"`
	Language Language `json:"language"`
}

// CodeResult is the captured output of a run.
type CodeResult struct {
	Output string `json:"output"`
}

// CodeExecutor runs code in the backend sandbox.
type CodeExecutor interface {
	ExecuteCode(ctx context.Context, req CodeRequest) (*CodeResult, error)
}
