package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/kairos-memory/pkg/errors"
)

// ToolCaller abstracts MCP tool execution.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// Invoker calls tools by name, checking arguments against the advertised
// schema before anything reaches the server.
type Invoker struct {
	caller ToolCaller
}

// NewInvoker wraps caller.
func NewInvoker(caller ToolCaller) *Invoker {
	return &Invoker{caller: caller}
}

// Invoke calls name with input and returns the text output. Input may be a
// map, a JSON object as string or bytes, or a bare string bound to the single
// required field.
func (i *Invoker) Invoke(ctx context.Context, name string, input any) (string, error) {
	tool, err := i.lookup(ctx, name)
	if err != nil {
		return "", err
	}

	args, err := normalizeToolArgs(input)
	if err != nil {
		return "", err
	}
	if raw, ok := input.(string); ok {
		if field, single := singleRequired(tool); single && strings.TrimSpace(raw) != "" {
			if _, present := args[field]; !present {
				args = map[string]any{field: strings.TrimSpace(raw)}
			}
		}
	}
	if err := validateRequiredArgs(tool, args); err != nil {
		return "", err
	}

	result, err := i.caller.CallTool(ctx, tool.Name, args)
	if err != nil {
		return "", err
	}
	return toolResultToOutput(result)
}

func (i *Invoker) lookup(ctx context.Context, name string) (mcp.Tool, error) {
	tools, err := i.caller.ListTools(ctx)
	if err != nil {
		return mcp.Tool{}, err
	}
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		if tool.Name == name {
			return tool, nil
		}
		names = append(names, tool.Name)
	}
	return mcp.Tool{}, errors.New(errors.CodeNotFound,
		fmt.Sprintf("tool %q not offered (have %s)", name, strings.Join(names, ", ")), nil)
}

// ParseArgs turns key=value pairs into tool arguments. Values that parse as
// JSON keep their JSON type, so numDocs=3 is a number and sources=["a"] an
// array; anything else is a string.
func ParseArgs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("argument %q is not key=value", pair), nil)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			args[key] = decoded
			continue
		}
		args[key] = value
	}
	return args, nil
}

func normalizeToolArgs(input any) (map[string]any, error) {
	switch value := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return value, nil
	case json.RawMessage:
		return decodeArgs(value)
	case []byte:
		return decodeArgs(value)
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return map[string]any{}, nil
		}
		if strings.HasPrefix(trimmed, "{") {
			if decoded, err := decodeArgs([]byte(trimmed)); err == nil {
				return decoded, nil
			}
		}
		return map[string]any{"input": value}, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("tool args: unsupported type %T", input), err)
		}
		return decodeArgs(encoded)
	}
}

func decodeArgs(raw []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "tool args: invalid JSON", err)
	}
	return decoded, nil
}

func validateRequiredArgs(tool mcp.Tool, args map[string]any) error {
	schema := tool.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	var missing []string
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("tool %s: missing required field %s", tool.Name, strings.Join(missing, ", ")), nil)
	}
	return nil
}

func singleRequired(tool mcp.Tool) (string, bool) {
	if len(tool.InputSchema.Required) != 1 {
		return "", false
	}
	return tool.InputSchema.Required[0], true
}

func toolResultToOutput(result *mcp.CallToolResult) (string, error) {
	if result == nil {
		return "", errors.New(errors.CodeInternal, "tool result is nil", nil)
	}
	if result.IsError {
		return "", errors.New(errors.CodeBackend, extractTextContent(result.Content), nil)
	}
	if text := extractTextContent(result.Content); text != "" {
		return text, nil
	}
	if result.StructuredContent != nil {
		encoded, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return "", errors.New(errors.CodeInternal, "encode structured content", err)
		}
		return string(encoded), nil
	}
	return "", nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
