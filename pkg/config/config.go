// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the server configuration with koanf.
//
// Sources are applied in order, later ones winning:
//
//	defaults -> YAML file -> legacy env (NODE_ENV, PORT, ...) -> KAIROS_* env -> --set overrides
package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/kairos-memory/pkg/errors"
)

// Deployment modes.
const (
	ModeDevelopment = "development"
	ModeStaging     = "staging"
	ModeProduction  = "production"
	ModeTest        = "test"
)

// HandlerNames lists every handler the server knows how to register.
var HandlerNames = []string{
	"userMemories",
	"saveUserInfoToMemory",
	"getRelevantDocs",
	"getUrlContent",
	"executeCode",
	"persona",
	"memory",
}

type Config struct {
	Mode      string          `koanf:"mode" yaml:"mode"`
	Log       LogConfig       `koanf:"log" yaml:"log"`
	Server    ServerConfig    `koanf:"server" yaml:"server"`
	Backend   BackendConfig   `koanf:"backend" yaml:"backend"`
	KV        KVConfig        `koanf:"kv" yaml:"kv"`
	Memory    MemoryConfig    `koanf:"memory" yaml:"memory"`
	Retrieval RetrievalConfig `koanf:"retrieval" yaml:"retrieval"`
	Handlers  HandlersConfig  `koanf:"handlers" yaml:"handlers"`
	DebugLog  DebugLogConfig  `koanf:"debuglog" yaml:"debuglog"`
	Telemetry TelemetryConfig `koanf:"telemetry" yaml:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // json, text
}

type ServerConfig struct {
	Host      string          `koanf:"host" yaml:"host"`
	Port      int             `koanf:"port" yaml:"port"`
	Transport string          `koanf:"transport" yaml:"transport"` // sse, stdio, http
	CORS      bool            `koanf:"cors" yaml:"cors"`
	Timeout   time.Duration   `koanf:"timeout" yaml:"timeout"`
	RateLimit RateLimitConfig `koanf:"ratelimit" yaml:"ratelimit"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type RateLimitConfig struct {
	RPS   float64 `koanf:"rps" yaml:"rps"` // 0 disables
	Burst int     `koanf:"burst" yaml:"burst"`
}

type BackendConfig struct {
	URL     string        `koanf:"url" yaml:"url"`
	Secret  string        `koanf:"secret" yaml:"secret"`
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
	Breaker BreakerConfig `koanf:"breaker" yaml:"breaker"`
}

type BreakerConfig struct {
	Failures uint32        `koanf:"failures" yaml:"failures"` // 0 disables the breaker
	Timeout  time.Duration `koanf:"timeout" yaml:"timeout"`
}

type KVConfig struct {
	Provider string `koanf:"provider" yaml:"provider"` // http, sqlite, memory
	Path     string `koanf:"path" yaml:"path"`         // sqlite database file
}

type MemoryConfig struct {
	Namespace string `koanf:"namespace" yaml:"namespace"`
	Append    string `koanf:"append" yaml:"append"` // locked, optimistic, naive
	Retries   int    `koanf:"retries" yaml:"retries"`
}

type RetrievalConfig struct {
	Provider string         `koanf:"provider" yaml:"provider"` // backend, qdrant
	Qdrant   string         `koanf:"qdrant" yaml:"qdrant"`     // host:port of the gRPC API
	Embedder EmbedderConfig `koanf:"embedder" yaml:"embedder"`
	Limit    int            `koanf:"limit" yaml:"limit"`
}

type EmbedderConfig struct {
	URL   string `koanf:"url" yaml:"url"`
	Model string `koanf:"model" yaml:"model"`
}

type HandlersConfig struct {
	Enabled []string `koanf:"enabled" yaml:"enabled"`
}

type DebugLogConfig struct {
	Path string `koanf:"path" yaml:"path"`
}

type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled" yaml:"enabled"`
	Exporter string `koanf:"exporter" yaml:"exporter"` // stdout, otlp
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`
	Insecure bool   `koanf:"insecure" yaml:"insecure"`
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Mode == ModeDevelopment
}

// HandlerEnabled reports whether name is part of the active catalogue.
func (c *Config) HandlerEnabled(name string) bool {
	return slices.Contains(c.Handlers.Enabled, name)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Backend.Secret != "" {
		c.Backend.Secret = "********"
	}
	c.Handlers.Enabled = slices.Clone(c.Handlers.Enabled)
	return c
}

var defaults = map[string]interface{}{
	"mode":                     ModeDevelopment,
	"log.level":                "info",
	"log.format":               "text",
	"server.host":              "0.0.0.0",
	"server.port":              3001,
	"server.transport":         "sse",
	"server.cors":              true,
	"server.timeout":           "0s",
	"server.ratelimit.rps":     0,
	"server.ratelimit.burst":   20,
	"backend.url":              "http://localhost:3000",
	"backend.timeout":          "30s",
	"backend.breaker.failures": 5,
	"backend.breaker.timeout":  "30s",
	"kv.provider":              "http",
	"kv.path":                  "kairos-memory.db",
	"memory.namespace":         "reactAIExperiments",
	"memory.append":            "locked",
	"memory.retries":           5,
	"retrieval.provider":       "backend",
	"retrieval.qdrant":         "localhost:6334",
	"retrieval.embedder.url":   "http://localhost:11434",
	"retrieval.embedder.model": "nomic-embed-text",
	"retrieval.limit":          4,
	"handlers.enabled":         HandlerNames,
	"debuglog.path":            "logs.jsonl",
	"telemetry.enabled":        false,
	"telemetry.exporter":       "stdout",
	"telemetry.endpoint":       "localhost:4317",
	"telemetry.insecure":       true,
}

// legacyEnv maps the environment names used by earlier deployments.
var legacyEnv = map[string]string{
	"NODE_ENV":                       "mode",
	"PORT":                           "server.port",
	"NODE_AI_EXPERIMENTS_SERVER_URL": "backend.url",
	"MCP_SECRET":                     "backend.secret",
}

// listKeys hold comma separated values when they come from env or --set.
var listKeys = map[string]bool{
	"handlers.enabled": true,
}

// Load reads defaults, the optional YAML file at path and the environment.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithCLI is Load with --config and --set arguments applied on top.
func LoadWithCLI(args []string) (*Config, error) {
	path, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(path, overrides)
}

func load(path string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, err
	}

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "failed to load config file", err).
				WithContext("path", path)
		}
	}

	// 2. Legacy names (NODE_ENV, PORT, ...)
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		mapped, ok := legacyEnv[key]
		if !ok || value == "" {
			return "", nil
		}
		return mapped, value
	}), nil); err != nil {
		return nil, err
	}

	// 3. Load from ENV (KAIROS_BACKEND_URL -> backend.url)
	if err := k.Load(env.ProviderWithValue("KAIROS_", ".", func(key, value string) (string, interface{}) {
		key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, "KAIROS_")), "_", ".", -1)
		return key, parseValue(key, value)
	}), nil); err != nil {
		return nil, err
	}

	// 4. CLI overrides
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "failed to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseCLIOverrides extracts --config and --set pairs from args.
func parseCLIOverrides(args []string) (string, map[string]interface{}, error) {
	var path string
	overrides := make(map[string]interface{})
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var value string
		switch {
		case arg == "--config" || arg == "--set":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("missing value for %s", arg)
			}
			value = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			arg, value = "--config", strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "--set="):
			arg, value = "--set", strings.TrimPrefix(arg, "--set=")
		default:
			return "", nil, fmt.Errorf("unknown config argument %q", arg)
		}

		if arg == "--config" {
			path = value
			continue
		}
		key, raw, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return "", nil, fmt.Errorf("invalid --set value %q, expected key=value", value)
		}
		overrides[key] = parseValue(key, raw)
	}
	return path, overrides, nil
}

func parseValue(key, value string) interface{} {
	if !listKeys[key] {
		return value
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration and reports every invalid field at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Mode {
	case ModeDevelopment, ModeStaging, ModeProduction, ModeTest:
	default:
		add("mode: must be one of development, staging, production, test (got %q)", c.Mode)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port: must be between 1 and 65535 (got %d)", c.Server.Port)
	}
	if !oneOf(c.Server.Transport, "sse", "stdio", "http") {
		add("server.transport: must be one of sse, stdio, http (got %q)", c.Server.Transport)
	}
	if c.Server.RateLimit.RPS < 0 {
		add("server.ratelimit.rps: must not be negative")
	}
	if u, err := url.Parse(c.Backend.URL); err != nil || !oneOf(u.Scheme, "http", "https") || u.Host == "" {
		add("backend.url: must be an absolute http(s) URL (got %q)", c.Backend.URL)
	}
	if c.Backend.Secret == "" && c.Mode != ModeTest {
		add("backend.secret: required")
	}
	if !oneOf(c.KV.Provider, "http", "sqlite", "memory") {
		add("kv.provider: must be one of http, sqlite, memory (got %q)", c.KV.Provider)
	}
	if c.KV.Provider == "sqlite" && c.KV.Path == "" {
		add("kv.path: required for the sqlite provider")
	}
	if !oneOf(c.Memory.Append, "locked", "optimistic", "naive") {
		add("memory.append: must be one of locked, optimistic, naive (got %q)", c.Memory.Append)
	}
	if c.Memory.Retries < 1 {
		add("memory.retries: must be at least 1")
	}
	if !oneOf(c.Retrieval.Provider, "backend", "qdrant") {
		add("retrieval.provider: must be one of backend, qdrant (got %q)", c.Retrieval.Provider)
	}
	for _, name := range c.Handlers.Enabled {
		if !slices.Contains(HandlerNames, name) {
			add("handlers.enabled: unknown handler %q", name)
		}
	}
	if c.Telemetry.Enabled && !oneOf(c.Telemetry.Exporter, "stdout", "otlp") {
		add("telemetry.exporter: must be stdout or otlp (got %q)", c.Telemetry.Exporter)
	}

	if len(problems) > 0 {
		return errors.New(errors.CodeInvalidInput, "invalid configuration: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	return slices.Contains(allowed, v)
}
