// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-memory/pkg/backend"
	"github.com/jllopis/kairos-memory/pkg/telemetry"
)

func contentTypeNames() []string {
	out := make([]string, len(backend.ContentTypes))
	for i, t := range backend.ContentTypes {
		out[i] = string(t)
	}
	return out
}

func languageNames() []string {
	out := make([]string, len(backend.Languages))
	for i, l := range backend.Languages {
		out[i] = string(l)
	}
	return out
}

func urlContentTool() mcp.Tool {
	return mcp.NewTool(NameURLContent,
		mcp.WithDescription("Fetch the text content of a URL: web pages, PDFs, Google Docs and Sheets, YouTube videos or images."),
		mcp.WithTitleAnnotation("URL content"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Absolute http or https URL."),
		),
		mcp.WithString("type",
			mcp.Enum(contentTypeNames()...),
			mcp.Description("Kind of content behind the URL. Inferred when omitted."),
		),
	)
}

func executeCodeTool() mcp.Tool {
	return mcp.NewTool(NameExecuteCode,
		mcp.WithDescription("Execute a code snippet in a sandbox and return its output. "+
			"Use language unknown when the language cannot be determined."),
		mcp.WithTitleAnnotation("Execute code"),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Source code to run."),
		),
		mcp.WithString("language",
			mcp.Required(),
			mcp.Enum(languageNames()...),
			mcp.Description("Language of the snippet."),
		),
	)
}

type urlContentInput struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

func (in urlContentInput) validate() error {
	var v validator
	v.absoluteURL("url", in.URL)
	if in.Type != "" {
		v.oneOf("type", in.Type, contentTypeNames())
	}
	return v.err()
}

func (h *Handlers) urlContent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in urlContentInput
	bindErr := bind(req.GetArguments(), &in)
	return h.runTool(ctx, NameURLContent, in, func(ctx context.Context) (string, error) {
		if bindErr != nil {
			return "", bindErr
		}
		if err := in.validate(); err != nil {
			return "", err
		}
		if in.Type != "" {
			trace.SpanFromContext(ctx).SetAttributes(attribute.String(telemetry.AttrContentType, in.Type))
		}
		return h.deps.Content.URLContent(ctx, backend.URLQuery{
			URL:  in.URL,
			Type: backend.ContentType(in.Type),
		})
	})
}

type executeCodeInput struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

func (in executeCodeInput) validate() error {
	// unknown is refused by the executor whatever the code is.
	if backend.Language(in.Language) == backend.LangUnknown {
		return nil
	}
	var v validator
	v.required("code", in.Code)
	if v.required("language", in.Language) {
		v.oneOf("language", in.Language, languageNames())
	}
	return v.err()
}

func (h *Handlers) executeCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in executeCodeInput
	bindErr := bind(req.GetArguments(), &in)
	return h.runTool(ctx, NameExecuteCode, in, func(ctx context.Context) (string, error) {
		if bindErr != nil {
			return "", bindErr
		}
		if err := in.validate(); err != nil {
			return "", err
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.String(telemetry.AttrCodeLanguage, in.Language))
		result, err := h.deps.Executor.ExecuteCode(ctx, backend.CodeRequest{
			Code:     in.Code,
			Language: backend.Language(in.Language),
		})
		if err != nil {
			return "", err
		}
		return marshalText(result)
	})
}
