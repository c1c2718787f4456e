// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-memory/pkg/backend"
	"github.com/jllopis/kairos-memory/pkg/telemetry"
)

func relevantDocsTool() mcp.Tool {
	return mcp.NewTool(NameRelevantDocs,
		mcp.WithDescription("Retrieve the documents most relevant to a query from the knowledge base of a persona."),
		mcp.WithTitleAnnotation("Relevant documents"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for."),
		),
		mcp.WithString("personaId",
			mcp.Required(),
			mcp.Description("Persona whose collection is searched."),
		),
		mcp.WithString("userEmail",
			mcp.Required(),
			mcp.Description("Email address of the persona owner."),
		),
		mcp.WithArray("sources",
			mcp.WithStringItems(),
			mcp.Description("Restrict results to these sources."),
		),
		mcp.WithNumber("numDocs",
			mcp.Min(1),
			mcp.Description("Maximum number of documents to return."),
		),
	)
}

func personaPrompt() mcp.Prompt {
	return mcp.NewPrompt(NamePersona,
		mcp.WithPromptDescription("Instructs the assistant to act as a stored persona."),
		mcp.WithArgument("personaId",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Persona to adopt."),
		),
		mcp.WithArgument("userEmail",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Email address of the persona owner."),
		),
	)
}

type relevantDocsInput struct {
	Query     string   `json:"query"`
	PersonaID string   `json:"personaId"`
	UserEmail string   `json:"userEmail"`
	Sources   []string `json:"sources,omitempty"`
	NumDocs   *int     `json:"numDocs,omitempty"`
}

func (in relevantDocsInput) validate() error {
	var v validator
	v.required("query", in.Query)
	v.required("personaId", in.PersonaID)
	v.email("userEmail", in.UserEmail)
	v.nonEmptyItems("sources", in.Sources)
	v.positive("numDocs", in.NumDocs)
	return v.err()
}

func (h *Handlers) relevantDocs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in relevantDocsInput
	bindErr := bind(req.GetArguments(), &in)
	return h.runTool(ctx, NameRelevantDocs, in, func(ctx context.Context) (string, error) {
		if bindErr != nil {
			return "", bindErr
		}
		if err := in.validate(); err != nil {
			return "", err
		}
		p, err := h.deps.Personas.Resolve(ctx, in.UserEmail, in.PersonaID)
		if err != nil {
			return "", err
		}
		docs, err := h.deps.Retriever.RelevantDocs(ctx, backend.DocsQuery{
			Query:          in.Query,
			CollectionName: p.CollectionName,
			NumDocs:        in.NumDocs,
			Sources:        in.Sources,
		})
		if err != nil {
			return "", err
		}
		trace.SpanFromContext(ctx).SetAttributes(telemetry.RetrievalAttributes(in.PersonaID, p.CollectionName, len(docs))...)
		if docs == nil {
			docs = []backend.Document{}
		}
		return marshalText(docs)
	})
}

func (h *Handlers) personaPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	args := req.Params.Arguments
	personaID, email := args["personaId"], args["userEmail"]

	out, err := h.run(ctx, KindPrompt, NamePersona, args, func(ctx context.Context) (string, error) {
		var v validator
		v.required("personaId", personaID)
		v.email("userEmail", email)
		if err := v.err(); err != nil {
			return "", err
		}
		p, err := h.deps.Personas.Resolve(ctx, email, personaID)
		if err != nil {
			return "", err
		}
		return personaMessage(p)
	})
	if err != nil {
		return nil, &protocolError{err: err}
	}
	return mcp.NewGetPromptResult("Persona "+personaID, []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(out)),
	}), nil
}

func personaMessage(p any) (string, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", err
	}
	return "From now on act as the persona described below. Stay in character, " +
		"follow its instructions and answer in its voice.\n\n" + string(data), nil
}
