// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/kairos-memory/pkg/config"
)

func runConfig(flags globalFlags, args []string) {
	if len(args) == 0 {
		fatal(NewInvalidArgumentError("config", "usage: kairos-memory config <show|validate>"))
	}
	ensureNoArgs(args[1:])

	path := configPath(flags.ConfigArgs)
	cfg, err := config.LoadWithCLI(flags.ConfigArgs)
	if err != nil {
		fatal(NewConfigError(err, path))
	}

	switch args[0] {
	case "show":
		if flags.JSON {
			printJSON(cfg.Redacted())
			return
		}
		if err := writeConfigYAML(os.Stdout, cfg); err != nil {
			fatal(err)
		}
	case "validate":
		// LoadWithCLI already validated.
		if flags.JSON {
			printJSON(map[string]any{"valid": true, "path": path})
			return
		}
		fmt.Println("configuration is valid")
	default:
		fatal(NewInvalidArgumentError(args[0], fmt.Sprintf("unknown config subcommand %q; use show or validate", args[0])))
	}
}

func writeConfigYAML(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return err
	}
	return enc.Close()
}
