// Package config loads the server configuration: defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wilhg/toolforge/pkg/errmodel"
)

// Config is the full server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Tools         ToolsConfig         `yaml:"tools"`
	API           APIConfig           `yaml:"api"`
	Reasoning     ReasoningConfig     `yaml:"reasoning"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Log           LogConfig           `yaml:"log"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Transport is "http" or "stdio".
	Transport       string        `yaml:"transport"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ToolsConfig struct {
	Path string `yaml:"path"`
}

// APIConfig describes the downstream API tools call into.
type APIConfig struct {
	// BaseURL overrides the base_url of the tools file.
	BaseURL string        `yaml:"base_url"`
	Key     string        `yaml:"key"`
	Timeout time.Duration `yaml:"timeout"`
}

type ReasoningConfig struct {
	// Provider is a registered llm provider name; empty disables composite tools.
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
	Retries   int    `yaml:"retries"`
}

type OrchestrationConfig struct {
	MaxIterations   int           `yaml:"max_iterations"`
	RunTimeout      time.Duration `yaml:"run_timeout"`
	StrictEndpoints bool          `yaml:"strict_endpoints"`
	StrictArguments bool          `yaml:"strict_arguments"`
	MaxResultTokens int           `yaml:"max_result_tokens"`
	TokenizerModel  string        `yaml:"tokenizer_model"`
	IncludeProgress bool          `yaml:"include_progress"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	Stdout      bool   `yaml:"stdout"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", Transport: "http", ShutdownTimeout: 10 * time.Second},
		Tools:  ToolsConfig{Path: "tools.json"},
		API:    APIConfig{Timeout: 30 * time.Second},
		Reasoning: ReasoningConfig{
			MaxTokens: 4096,
			Retries:   2,
		},
		Orchestration: OrchestrationConfig{
			MaxIterations:   20,
			RunTimeout:      5 * time.Minute,
			MaxResultTokens: 4000,
			TokenizerModel:  "gpt-4o",
			IncludeProgress: true,
		},
		Log:       LogConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{ServiceName: "toolforge"},
	}
}

// Load builds the configuration. path may be empty to skip the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errmodel.Configuration("config_unreadable", "cannot read config file", map[string]any{"path": path}, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, errmodel.Configuration("bad_yaml", "config file is not valid YAML", map[string]any{"path": path}, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var problems []error
	bad := func(field, msg string) {
		problems = append(problems, errmodel.Configuration("invalid_value", msg, map[string]any{"field": field}))
	}
	switch c.Server.Transport {
	case "http", "stdio":
	default:
		bad("server.transport", fmt.Sprintf("unsupported transport %q", c.Server.Transport))
	}
	if c.Orchestration.MaxIterations <= 0 {
		bad("orchestration.max_iterations", "must be positive")
	}
	if c.Orchestration.RunTimeout < 0 {
		bad("orchestration.run_timeout", "must not be negative")
	}
	if c.Reasoning.Retries < 0 {
		bad("reasoning.retries", "must not be negative")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		bad("log.format", fmt.Sprintf("unsupported format %q", c.Log.Format))
	}
	if len(problems) > 0 {
		return errmodel.Configuration("invalid_config", "server configuration is invalid", nil, problems...)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("TOOLFORGE_ADDR", &c.Server.Addr)
	str("TOOLFORGE_TRANSPORT", &c.Server.Transport)
	str("TOOLS_CONFIG_PATH", &c.Tools.Path)
	str("API_BASE_URL", &c.API.BaseURL)
	str("API_KEY", &c.API.Key)
	dur("API_TIMEOUT", &c.API.Timeout)
	str("TOOLFORGE_REASONING_PROVIDER", &c.Reasoning.Provider)
	str("TOOLFORGE_REASONING_MODEL", &c.Reasoning.Model)
	str("TOOLFORGE_REASONING_API_KEY", &c.Reasoning.APIKey)
	str("TOOLFORGE_REASONING_BASE_URL", &c.Reasoning.BaseURL)
	num("TOOLFORGE_REASONING_RETRIES", &c.Reasoning.Retries)
	num("TOOLFORGE_MAX_ITERATIONS", &c.Orchestration.MaxIterations)
	dur("TOOLFORGE_RUN_TIMEOUT", &c.Orchestration.RunTimeout)
	boolean("TOOLFORGE_STRICT_ENDPOINTS", &c.Orchestration.StrictEndpoints)
	num("TOOLFORGE_MAX_RESULT_TOKENS", &c.Orchestration.MaxResultTokens)
	str("TOOLFORGE_LOG_LEVEL", &c.Log.Level)
	str("TOOLFORGE_LOG_FORMAT", &c.Log.Format)
	boolean("TOOLFORGE_TRACE_STDOUT", &c.Telemetry.Stdout)

	if len(errs) > 0 {
		return errmodel.Configuration("bad_env", "environment override is malformed", nil, errs...)
	}
	return nil
}

// ReasoningOptions returns the factory config for the reasoning provider.
func (c Config) ReasoningOptions() map[string]any {
	out := map[string]any{}
	if c.Reasoning.APIKey != "" {
		out["api_key"] = c.Reasoning.APIKey
	}
	if c.Reasoning.Model != "" {
		out["model"] = c.Reasoning.Model
	}
	if c.Reasoning.BaseURL != "" {
		out["base_url"] = c.Reasoning.BaseURL
	}
	return out
}
