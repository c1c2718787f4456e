// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
)

// Adapter describes a pluggable storage, retrieval, transport or telemetry
// implementation and the config keys that select it.
type Adapter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	ConfigKeys  []string `json:"config_keys,omitempty"`
	Docs        string   `json:"docs,omitempty"`
}

// adaptersRegistry is the catalog of known adapters.
var adaptersRegistry = []Adapter{
	// Key/Value stores
	{
		Name:        "http",
		Type:        "kv",
		Description: "Backend /json-data endpoint authenticated with the shared secret",
		ConfigKeys:  []string{"kv.provider=http", "backend.url", "backend.secret"},
		Docs:        "pkg/kv/http.go",
	},
	{
		Name:        "sqlite",
		Type:        "kv",
		Description: "Local SQLite file with versioned rows",
		ConfigKeys:  []string{"kv.provider=sqlite", "kv.path"},
		Docs:        "pkg/kv/sqlite.go",
	},
	{
		Name:        "memory",
		Type:        "kv",
		Description: "In-process map (non-persistent)",
		ConfigKeys:  []string{"kv.provider=memory"},
		Docs:        "pkg/kv/inmemory.go",
	},

	// Retrieval
	{
		Name:        "backend",
		Type:        "retrieval",
		Description: "Backend relevant-docs experiment",
		ConfigKeys:  []string{"retrieval.provider=backend"},
		Docs:        "pkg/backend/retrieval.go",
	},
	{
		Name:        "qdrant",
		Type:        "retrieval",
		Description: "Qdrant vector search over gRPC with Ollama query embeddings",
		ConfigKeys:  []string{"retrieval.provider=qdrant", "retrieval.qdrant", "retrieval.embedder.url", "retrieval.embedder.model", "retrieval.limit"},
		Docs:        "https://qdrant.tech/documentation",
	},

	// Transports
	{
		Name:        "sse",
		Type:        "transport",
		Description: "Server-sent events on /sse with messages posted to /messages?sessionId=",
		ConfigKeys:  []string{"server.transport=sse", "server.host", "server.port", "server.cors", "server.ratelimit.rps"},
		Docs:        "https://modelcontextprotocol.io/specification",
	},
	{
		Name:        "http",
		Type:        "transport",
		Description: "Streamable HTTP on /mcp",
		ConfigKeys:  []string{"server.transport=http", "server.host", "server.port"},
		Docs:        "https://modelcontextprotocol.io/specification",
	},
	{
		Name:        "stdio",
		Type:        "transport",
		Description: "Single client over stdin/stdout; logs go to stderr",
		ConfigKeys:  []string{"server.transport=stdio"},
	},

	// Telemetry
	{
		Name:        "stdout",
		Type:        "telemetry",
		Description: "OpenTelemetry traces and metrics printed to stdout",
		ConfigKeys:  []string{"telemetry.enabled=true", "telemetry.exporter=stdout"},
	},
	{
		Name:        "otlp",
		Type:        "telemetry",
		Description: "OpenTelemetry OTLP gRPC exporter",
		ConfigKeys:  []string{"telemetry.enabled=true", "telemetry.exporter=otlp", "telemetry.endpoint", "telemetry.insecure"},
		Docs:        "https://opentelemetry.io/docs/specs/otlp",
	},
}

type adaptersListResult struct {
	Adapters []Adapter `json:"adapters"`
	Total    int       `json:"total"`
}

type adapterInfoResult struct {
	Adapters []Adapter `json:"adapters"`
	Found    bool      `json:"found"`
}

func runAdapters(global globalFlags, args []string) {
	if len(args) == 0 {
		fatal(NewInvalidArgumentError("adapters", "usage: kairos-memory adapters <list|info> [args]"))
	}

	switch args[0] {
	case "list":
		runAdaptersList(global, args[1:])
	case "info":
		runAdaptersInfo(global, args[1:])
	default:
		fatal(NewInvalidArgumentError(args[0], fmt.Sprintf("unknown adapters subcommand %q; use list or info", args[0])))
	}
}

func filterAdapters(adapters []Adapter, typ string) []Adapter {
	if typ == "" {
		return adapters
	}
	filtered := make([]Adapter, 0)
	for _, a := range adapters {
		if a.Type == typ {
			filtered = append(filtered, a)
		}
	}
	return filtered
}

// findAdapters returns every adapter called name. Names are unique per type
// only, so "http" matches both a store and a transport.
func findAdapters(name string) []Adapter {
	var found []Adapter
	for _, a := range adaptersRegistry {
		if a.Name == name {
			found = append(found, a)
		}
	}
	return found
}

func runAdaptersList(global globalFlags, args []string) {
	fs := flag.NewFlagSet("adapters list", flag.ContinueOnError)
	filterType := fs.String("type", "", "Filter by type: kv, retrieval, transport, telemetry")
	if err := fs.Parse(args); err != nil {
		fatal(NewInvalidArgumentError("adapters list", err.Error()))
	}

	adapters := filterAdapters(adaptersRegistry, *filterType)
	result := adaptersListResult{
		Adapters: adapters,
		Total:    len(adapters),
	}

	if global.JSON {
		printJSON(result)
		return
	}

	if len(adapters) == 0 {
		fmt.Println("No adapters found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tDESCRIPTION")
	fmt.Fprintln(w, "----\t----\t-----------")
	for _, a := range adapters {
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.Name, a.Type, a.Description)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d adapters\n", result.Total)
	fmt.Println("\nUse 'kairos-memory adapters info <name>' for configuration details.")
}

func runAdaptersInfo(global globalFlags, args []string) {
	if len(args) == 0 {
		fatal(NewInvalidArgumentError("adapters info", "usage: kairos-memory adapters info <adapter-name>"))
	}

	name := args[0]
	found := findAdapters(name)
	result := adapterInfoResult{Adapters: found, Found: len(found) > 0}

	if global.JSON {
		printJSON(result)
		return
	}
	if !result.Found {
		fatal(NewNotFoundError("adapters", name))
	}

	for i, a := range found {
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("Adapter: %s (%s)\n", a.Name, a.Type)
		fmt.Printf("  %s\n", a.Description)
		if len(a.ConfigKeys) > 0 {
			fmt.Println("Configuration:")
			fmt.Printf("  %s\n", strings.Join(a.ConfigKeys, "\n  "))
		}
		if a.Docs != "" {
			fmt.Printf("Documentation: %s\n", a.Docs)
		}
	}
}
