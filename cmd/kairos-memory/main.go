// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const serviceName = "kairos-memory"

type globalFlags struct {
	ConfigArgs []string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(NewInvalidArgumentError("flags", err.Error()))
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cmd := args[0]
	switch cmd {
	case "serve":
		runServe(ctx, global, args[1:])
	case "probe":
		runProbe(ctx, global, args[1:])
	case "config":
		runConfig(global, args[1:])
	case "adapters":
		runAdapters(global, args[1:])
	case "help":
		printUsage()
	case "version":
		printVersion(global)
	default:
		fatal(NewInvalidArgumentError(cmd, fmt.Sprintf("unknown command %q", cmd)))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{
		Timeout: 30 * time.Second,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		case arg == "--set":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --set")
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--set="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

// configPath returns the file named by --config, if any.
func configPath(configArgs []string) string {
	path := ""
	for i := 0; i < len(configArgs); i++ {
		arg := configArgs[i]
		switch {
		case arg == "--config" && i+1 < len(configArgs):
			path = configArgs[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		}
	}
	return path
}

func printJSON(value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(payload))
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func printVersion(flags globalFlags) {
	if flags.JSON {
		printJSON(map[string]string{"name": serviceName, "version": version})
		return
	}
	fmt.Println(version)
}

func printUsage() {
	fmt.Println(`kairos-memory: MCP server for user memories, persona retrieval and code execution

Usage:
  kairos-memory [global flags] <command> [args]

Global flags:
  --config <path>      Path to a YAML config file
  --set key=value      Override config (repeatable)
  --timeout <dur>      Probe request timeout (default 30s)
  --json               JSON output

Commands:
  serve [--watch]                          Run the server on the configured transport
  probe [--url U] [--transport sse|http|stdio] [--command C]
        [--call TOOL [key=value ...]] [--read URI] [--prompt NAME [key=value ...]]
                                           Inspect or exercise a running server
  config show                              Print the effective configuration (secrets redacted)
  config validate                          Check the configuration and exit
  adapters list [--type T]                 List storage, retrieval, transport and telemetry adapters
  adapters info <name>
  version
  help`)
}

func fatal(err error) {
	var cliErr *CLIError
	if asCLIError(err, &cliErr) {
		cliErr.PrintError(false)
		os.Exit(1)
	}
	PrintSimpleError(err, false)
	os.Exit(1)
}

func ensureNoArgs(args []string) {
	if len(args) > 0 {
		fatal(NewInvalidArgumentError(strings.Join(args, " "), fmt.Sprintf("unexpected args: %v", args)))
	}
}
