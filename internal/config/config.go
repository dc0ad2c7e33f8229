// Package config loads the gateway's YAML configuration file
// (ARCH_CONFIG_PATH) and holds the operational defaults (SystemConfig).
//
// Grounded on the teacher's pkg/config/config.go Load/Validate/
// DeepCopy/DefaultSystemConfig shape, adapted from the teacher's
// channels/LLM/system-prompt JSON split to this gateway's single YAML
// document enumerating endpoints, agents, tools, and router settings,
// per spec.md §6.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"archgw/internal/gatewayapi"
)

// RouterConfig holds the router model's identity and the route
// descriptions rendered into its prompt.
type RouterConfig struct {
	Model  string             `yaml:"model"`
	Routes []RouterRouteConfig `yaml:"routes"`
}

type RouterRouteConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ProviderConfig names one upstream LLM provider cluster: which backend
// family serves it (openai, ollama, gemini), which model, and the
// internal route name it answers to.
type ProviderConfig struct {
	Route    string `yaml:"route"`
	Type     string `yaml:"type"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	UsageText string `yaml:"usage,omitempty"`
}

// Overrides holds the per-deployment feature flags named in §6.
type Overrides struct {
	UseAgentOrchestrator   bool `yaml:"use_agent_orchestrator"`
	OptimizeContextWindow  bool `yaml:"optimize_context_window"`
}

// Config is the top-level shape of ARCH_CONFIG_PATH.
type Config struct {
	Endpoints          []gatewayapi.Endpoint       `yaml:"endpoints"`
	Agents             []gatewayapi.Agent          `yaml:"agents"`
	Tools              []gatewayapi.ToolDescriptor `yaml:"tools"`
	Providers          []ProviderConfig            `yaml:"providers"`
	FunctionCallingRoute string                    `yaml:"function_calling_route"`
	Router             RouterConfig                `yaml:"router"`
	Overrides          Overrides                   `yaml:"overrides"`
}

func (c *Config) Validate() error {
	if c.FunctionCallingRoute == "" {
		return fmt.Errorf("config: function_calling_route must be set")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Route == "" {
			return fmt.Errorf("config: provider entry missing route name")
		}
		seen[p.Route] = true
	}
	if !seen[c.FunctionCallingRoute] {
		return fmt.Errorf("config: function_calling_route %q has no matching provider", c.FunctionCallingRoute)
	}
	return nil
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SystemConfig holds process-wide operational defaults not meant to be
// re-derived per request, grounded on the teacher's
// config.DefaultSystemConfig() hardcoded-safe-defaults pattern.
type SystemConfig struct {
	BindAddress        string
	ConfigPath         string
	DispatchTimeoutMS  int
	MaxBodyBytes       int64
}

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		BindAddress:       envOrDefault("BIND_ADDRESS", "0.0.0.0:9091"),
		ConfigPath:        envOrDefault("ARCH_CONFIG_PATH", "./arch_config.yaml"),
		DispatchTimeoutMS: 5000,
		MaxBodyBytes:      1 << 20, // 1 MiB, per §6.
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
