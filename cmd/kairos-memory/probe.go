// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/kairos-memory/pkg/errors"
	kmcp "github.com/jllopis/kairos-memory/pkg/mcp"
)

const defaultProbeURL = "http://localhost:3001" + kmcp.SSEPath

type probeOptions struct {
	URL       string
	Transport string
	Command   string
	Call      string
	Read      string
	Prompt    string
	Args      []string
}

type catalogueEntry struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type probeResult struct {
	Catalogue []catalogueEntry `json:"catalogue,omitempty"`
	Output    string           `json:"output,omitempty"`
}

func runProbe(ctx context.Context, flags globalFlags, args []string) {
	opts, err := parseProbeFlags(args)
	if err != nil {
		fatal(NewInvalidArgumentError("probe", err.Error()))
	}

	client, err := dialProbe(opts, flags)
	if err != nil {
		fatal(WrapConnectionError(err, opts.target()))
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()

	result, err := probe(ctx, client, opts)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.CodeTimeout) {
			fatal(WrapTimeoutError(err, "probe"))
		}
		fatal(err)
	}

	if flags.JSON {
		printJSON(result)
		return
	}
	if result.Output != "" {
		fmt.Println(result.Output)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "KIND", "NAME", "DESCRIPTION")
	for _, e := range result.Catalogue {
		writeRow(writer, e.Kind, e.Name, e.Description)
	}
	_ = writer.Flush()
}

func parseProbeFlags(args []string) (probeOptions, error) {
	var opts probeOptions
	cmd := flag.NewFlagSet("probe", flag.ContinueOnError)
	cmd.StringVar(&opts.URL, "url", defaultProbeURL, "Server URL (SSE stream or streamable endpoint)")
	cmd.StringVar(&opts.Transport, "transport", "sse", "Transport: sse, http or stdio")
	cmd.StringVar(&opts.Command, "command", "", "Server command line for the stdio transport")
	cmd.StringVar(&opts.Call, "call", "", "Tool to call with the remaining key=value arguments")
	cmd.StringVar(&opts.Read, "read", "", "Resource URI to read")
	cmd.StringVar(&opts.Prompt, "prompt", "", "Prompt to render with the remaining key=value arguments")
	if err := cmd.Parse(args); err != nil {
		return opts, err
	}
	opts.Args = cmd.Args()

	actions := 0
	for _, v := range []string{opts.Call, opts.Read, opts.Prompt} {
		if v != "" {
			actions++
		}
	}
	if actions > 1 {
		return opts, fmt.Errorf("--call, --read and --prompt are exclusive")
	}
	if opts.Call == "" && opts.Prompt == "" && len(opts.Args) > 0 {
		return opts, fmt.Errorf("unexpected args: %v", opts.Args)
	}
	switch opts.Transport {
	case "sse", "http":
	case "stdio":
		if strings.TrimSpace(opts.Command) == "" {
			return opts, fmt.Errorf("--command is required for the stdio transport")
		}
	default:
		return opts, fmt.Errorf("unsupported transport %q", opts.Transport)
	}
	return opts, nil
}

func (o probeOptions) target() string {
	if o.Transport == "stdio" {
		return o.Command
	}
	return o.URL
}

func dialProbe(opts probeOptions, flags globalFlags) (*kmcp.Client, error) {
	clientOpts := []kmcp.ClientOption{kmcp.WithTimeout(flags.Timeout)}
	switch opts.Transport {
	case "stdio":
		fields := strings.Fields(opts.Command)
		return kmcp.NewClientWithStdio(fields[0], fields[1:], clientOpts...)
	case "http":
		return kmcp.NewClientWithStreamableHTTP(opts.URL, clientOpts...)
	default:
		return kmcp.NewClientWithSSE(opts.URL, clientOpts...)
	}
}

// prober is the part of the probe client the command uses.
type prober interface {
	kmcp.ToolCaller
	ListResourceTemplates(ctx context.Context) ([]mcptypes.ResourceTemplate, error)
	ListPrompts(ctx context.Context) ([]mcptypes.Prompt, error)
	ReadResource(ctx context.Context, uri string) (*mcptypes.ReadResourceResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcptypes.GetPromptResult, error)
}

func probe(ctx context.Context, client prober, opts probeOptions) (probeResult, error) {
	switch {
	case opts.Call != "":
		args, err := kmcp.ParseArgs(opts.Args)
		if err != nil {
			return probeResult{}, err
		}
		out, err := kmcp.NewInvoker(client).Invoke(ctx, opts.Call, args)
		return probeResult{Output: out}, err
	case opts.Read != "":
		res, err := client.ReadResource(ctx, opts.Read)
		if err != nil {
			return probeResult{}, err
		}
		var parts []string
		for _, c := range res.Contents {
			if text, ok := c.(mcptypes.TextResourceContents); ok {
				parts = append(parts, text.Text)
			}
		}
		return probeResult{Output: strings.Join(parts, "\n")}, nil
	case opts.Prompt != "":
		args, err := promptArgs(opts.Args)
		if err != nil {
			return probeResult{}, err
		}
		res, err := client.GetPrompt(ctx, opts.Prompt, args)
		if err != nil {
			return probeResult{}, err
		}
		var parts []string
		for _, m := range res.Messages {
			parts = append(parts, fmt.Sprintf("[%s] %s", m.Role, mcptypes.GetTextFromContent(m.Content)))
		}
		return probeResult{Output: strings.Join(parts, "\n")}, nil
	}
	return listCatalogue(ctx, client)
}

func listCatalogue(ctx context.Context, client prober) (probeResult, error) {
	var result probeResult
	tools, err := client.ListTools(ctx)
	if err != nil {
		return result, err
	}
	for _, t := range tools {
		result.Catalogue = append(result.Catalogue, catalogueEntry{Kind: "tool", Name: t.Name, Description: t.Description})
	}
	templates, err := client.ListResourceTemplates(ctx)
	if err != nil {
		return result, err
	}
	for _, t := range templates {
		uri := ""
		if t.URITemplate != nil && t.URITemplate.Template != nil {
			uri = t.URITemplate.Raw()
		}
		result.Catalogue = append(result.Catalogue, catalogueEntry{Kind: "resource", Name: t.Name, Description: uri})
	}
	prompts, err := client.ListPrompts(ctx)
	if err != nil {
		return result, err
	}
	for _, p := range prompts {
		result.Catalogue = append(result.Catalogue, catalogueEntry{Kind: "prompt", Name: p.Name, Description: p.Description})
	}
	return result, nil
}

// promptArgs parses key=value pairs; prompt arguments are always strings.
func promptArgs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("argument %q is not key=value", pair), nil)
		}
		out[strings.TrimSpace(key)] = value
	}
	return out, nil
}
