// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// UserMemoriesTemplate is the URI template of the memories resource. The
// reserved expansion lets clients send the address with a raw '@' as well as
// percent-encoded.
const UserMemoriesTemplate = "users://{+userEmail}/memories"

const saveUserInfoDescription = "Save any information the user reveals about themselves during conversations. " +
	"This includes their preferences, interests, goals, plans, likes and dislikes, personality traits, " +
	"or anything relevant that can help personalize future conversations."

func userMemoriesTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(UserMemoriesTemplate, NameUserMemories,
		mcp.WithTemplateDescription("Statements saved about a user, oldest first. null when nothing was saved."),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

func saveUserInfoTool() mcp.Tool {
	return mcp.NewTool(NameSaveUserInfo,
		mcp.WithDescription(saveUserInfoDescription),
		mcp.WithTitleAnnotation("Save user memory"),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
		mcp.WithString("statement",
			mcp.Required(),
			mcp.MinLength(1),
			mcp.Description("A concise statement that captures the information to be saved "+
				"(e.g., 'User plans to start an AI & robotics company', 'User likes sci-fi movies', 'User works at Google')."),
		),
		mcp.WithString("userEmail",
			mcp.Required(),
			mcp.Description("Email address of the user the statement is about."),
		),
	)
}

func memoryPrompt() mcp.Prompt {
	return mcp.NewPrompt(NameMemory,
		mcp.WithPromptDescription("Primes the conversation with what is known about the user."),
		mcp.WithArgument("userEmail",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Email address of the user."),
		),
	)
}

type saveUserInfoInput struct {
	Statement string `json:"statement"`
	UserEmail string `json:"userEmail"`
}

func (in saveUserInfoInput) validate() error {
	var v validator
	v.required("statement", in.Statement)
	v.email("userEmail", in.UserEmail)
	return v.err()
}

func (h *Handlers) saveUserInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in saveUserInfoInput
	bindErr := bind(req.GetArguments(), &in)
	return h.runTool(ctx, NameSaveUserInfo, in, func(ctx context.Context) (string, error) {
		if bindErr != nil {
			return "", bindErr
		}
		if err := in.validate(); err != nil {
			return "", err
		}
		return h.deps.Memory.Append(ctx, in.UserEmail, in.Statement)
	})
}

func (h *Handlers) userMemories(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	email := templateArgument(req.Params.Arguments, "userEmail")
	input := map[string]string{"uri": req.Params.URI, "userEmail": email}

	out, err := h.run(ctx, KindResource, NameUserMemories, input, func(ctx context.Context) (string, error) {
		var v validator
		v.email("userEmail", email)
		if err := v.err(); err != nil {
			return "", err
		}
		statements, err := h.deps.Memory.Statements(ctx, email)
		if err != nil {
			return "", err
		}
		// nil renders as null so clients can tell "never saved" from "empty".
		return marshalText(statements)
	})
	if err != nil {
		return nil, &protocolError{err: err}
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     out,
		},
	}, nil
}

func (h *Handlers) memoryPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	email := req.Params.Arguments["userEmail"]

	out, err := h.run(ctx, KindPrompt, NameMemory, req.Params.Arguments, func(ctx context.Context) (string, error) {
		var v validator
		v.email("userEmail", email)
		if err := v.err(); err != nil {
			return "", err
		}
		statements, err := h.deps.Memory.Statements(ctx, email)
		if err != nil {
			return "", err
		}
		return memoryMessage(email, statements), nil
	})
	if err != nil {
		return nil, &protocolError{err: err}
	}
	return mcp.NewGetPromptResult("Saved memories of "+email, []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(out)),
	}), nil
}

func memoryMessage(email string, statements []string) string {
	if len(statements) == 0 {
		return fmt.Sprintf("There are no saved memories about %s yet. "+
			"Save anything relevant they reveal about themselves with the %s tool.", email, NameSaveUserInfo)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "These are the things you remember about %s. Use them to personalize your answers:\n", email)
	for _, s := range statements {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// templateArgument returns a URI template variable. mcp-go hands them over
// as []string; plain strings are accepted too.
func templateArgument(args map[string]any, name string) string {
	switch v := args[name].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case []any:
		if len(v) > 0 {
			s, _ := v[0].(string)
			return s
		}
	}
	return ""
}
