// Package config loads and validates the Vellum settings document. The
// document is YAML with environment variable expansion; unknown keys are
// ignored so older binaries can read newer documents.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the settings document.
type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Agent       AgentConfig       `yaml:"agent"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Context     ContextConfig     `yaml:"contextManagement"`
	Thinking    ThinkingConfig    `yaml:"thinking"`
	Storage     StorageConfig     `yaml:"storage"`
	Plugins     PluginsConfig     `yaml:"plugins"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LLMConfig selects the provider and sampling parameters.
type LLMConfig struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	MaxTokens   int      `yaml:"maxTokens"`
	Temperature *float64 `yaml:"temperature"`
}

// AgentConfig bounds the loop.
type AgentConfig struct {
	MaxToolCalls int `yaml:"maxToolCalls"`
	MaxTurns     int `yaml:"maxTurns"`
	MaxRetries   int `yaml:"maxRetries"`
}

// PermissionsConfig holds the trust mode and per-capability overrides.
// Each capability value is one of ask, auto, never.
type PermissionsConfig struct {
	Mode          string `yaml:"mode"`
	FileRead      string `yaml:"fileRead"`
	FileWrite     string `yaml:"fileWrite"`
	ShellExecute  string `yaml:"shellExecute"`
	NetworkAccess string `yaml:"networkAccess"`
}

// ContextConfig controls compaction.
type ContextConfig struct {
	Enabled    *bool            `yaml:"enabled"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
}

// ThresholdsConfig overrides the model-derived pressure thresholds. All
// three must be set together; zero values mean "use the model defaults".
type ThresholdsConfig struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
	Overflow float64 `yaml:"overflow"`
}

// ThinkingConfig requests extended reasoning.
type ThinkingConfig struct {
	Enabled         bool   `yaml:"enabled"`
	BudgetTokens    int    `yaml:"budgetTokens"`
	ReasoningEffort string `yaml:"reasoningEffort"`
}

// StorageConfig locates session and snapshot state.
type StorageConfig struct {
	// SessionsPath is the SQLite database file. Empty selects the
	// in-memory store.
	SessionsPath string `yaml:"sessionsPath"`

	// WorkspaceRoot anchors file tools and snapshots. Empty means the
	// current directory.
	WorkspaceRoot string `yaml:"workspaceRoot"`
}

// PluginsConfig locates the trust store.
type PluginsConfig struct {
	TrustStorePath string `yaml:"trustStorePath"`
}

// LoggingConfig tunes the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no document exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a settings document, expands environment variables, applies
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads the document at path, falling back to defaults
// when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// DefaultPath is the settings document location under the user's home.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vellum.yaml"
	}
	return filepath.Join(home, ".vellum", "config.yaml")
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 8192
	}
	if cfg.Agent.MaxTurns == 0 {
		cfg.Agent.MaxTurns = 10
	}
	if cfg.Agent.MaxRetries == 0 {
		cfg.Agent.MaxRetries = 2
	}
	if cfg.Permissions.Mode == "" {
		cfg.Permissions.Mode = "ask"
	}
	if cfg.Thinking.ReasoningEffort == "" {
		cfg.Thinking.ReasoningEffort = "none"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

var validPolicies = map[string]bool{"": true, "ask": true, "auto": true, "never": true}

var validEfforts = map[string]bool{
	"none": true, "minimal": true, "low": true,
	"medium": true, "high": true, "xhigh": true,
}

var validTrustModes = map[string]bool{"ask": true, "auto": true, "full": true}

// Validate checks enumerated fields and numeric ranges.
func (c *Config) Validate() error {
	if c.LLM.Temperature != nil {
		if t := *c.LLM.Temperature; t < 0 || t > 2 {
			return fmt.Errorf("llm.temperature %v out of range [0, 2]", t)
		}
	}
	if c.Agent.MaxTurns < 0 || c.Agent.MaxToolCalls < 0 || c.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent limits must not be negative")
	}

	if !validTrustModes[c.Permissions.Mode] {
		return fmt.Errorf("permissions.mode %q: must be ask, auto, or full", c.Permissions.Mode)
	}
	for name, value := range map[string]string{
		"permissions.fileRead":      c.Permissions.FileRead,
		"permissions.fileWrite":     c.Permissions.FileWrite,
		"permissions.shellExecute":  c.Permissions.ShellExecute,
		"permissions.networkAccess": c.Permissions.NetworkAccess,
	} {
		if !validPolicies[value] {
			return fmt.Errorf("%s %q: must be ask, auto, or never", name, value)
		}
	}

	if err := c.Context.Thresholds.validate(); err != nil {
		return err
	}

	if !validEfforts[c.Thinking.ReasoningEffort] {
		return fmt.Errorf("thinking.reasoningEffort %q: unknown effort level", c.Thinking.ReasoningEffort)
	}
	if c.Thinking.BudgetTokens < 0 {
		return fmt.Errorf("thinking.budgetTokens must not be negative")
	}
	return nil
}

// IsZero reports whether no threshold override is present.
func (t ThresholdsConfig) IsZero() bool {
	return t.Warning == 0 && t.Critical == 0 && t.Overflow == 0
}

func (t ThresholdsConfig) validate() error {
	if t.IsZero() {
		return nil
	}
	if !(0 < t.Warning && t.Warning < t.Critical && t.Critical < t.Overflow && t.Overflow < 1) {
		return fmt.Errorf("contextManagement.thresholds: require 0 < warning < critical < overflow < 1, got %v/%v/%v",
			t.Warning, t.Critical, t.Overflow)
	}
	return nil
}

// ContextEnabled reports whether compaction is on. It defaults to true.
func (c *Config) ContextEnabled() bool {
	return c.Context.Enabled == nil || *c.Context.Enabled
}
