package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/vellum-dev/vellum/internal/agent"
	"github.com/vellum-dev/vellum/internal/config"
	"github.com/vellum-dev/vellum/internal/contextmgr"
	"github.com/vellum-dev/vellum/internal/permissions"
	"github.com/vellum-dev/vellum/internal/providers"
	"github.com/vellum-dev/vellum/internal/sessions"
)

// keyEnvVars maps provider names to the environment variable carrying
// their API key.
var keyEnvVars = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
	"azure":     "AZURE_OPENAI_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
	"google":    "GOOGLE_API_KEY",
}

func buildLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func buildProvider(name string, cfg *config.Config) (providers.Provider, error) {
	settings := providers.Settings{
		DefaultModel:    cfg.LLM.Model,
		BaseURL:         os.Getenv("OLLAMA_HOST"),
		Endpoint:        os.Getenv("AZURE_OPENAI_ENDPOINT"),
		Region:          os.Getenv("AWS_REGION"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}
	if envVar, ok := keyEnvVars[name]; ok {
		key := os.Getenv(envVar)
		if key == "" {
			return nil, fmt.Errorf("provider %s: %s is not set (supported providers: %s)",
				name, envVar, providerNamesHint())
		}
		if err := providers.ValidateKeyFormat(name, key); err != nil {
			return nil, err
		}
		settings.APIKey = key
	}
	return providers.New(name, settings)
}

func openSessionStore(cfg *config.Config) (sessions.Store, error) {
	if cfg.Storage.SessionsPath == "" {
		return sessions.NewMemoryStore(), nil
	}
	return sessions.NewSQLiteStore(cfg.Storage.SessionsPath)
}

func workspaceRoot(cfg *config.Config) string {
	if cfg.Storage.WorkspaceRoot != "" {
		return cfg.Storage.WorkspaceRoot
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func buildPermissionEngine(cfg *config.Config, sessionID string, responder permissions.Responder) *permissions.Engine {
	engine := permissions.NewEngine(sessionID, permissions.TrustMode(cfg.Permissions.Mode), responder)
	for cap, value := range map[permissions.Capability]string{
		permissions.CapabilityFileRead:      cfg.Permissions.FileRead,
		permissions.CapabilityFileWrite:     cfg.Permissions.FileWrite,
		permissions.CapabilityShellExecute:  cfg.Permissions.ShellExecute,
		permissions.CapabilityNetworkAccess: cfg.Permissions.NetworkAccess,
	} {
		if value != "" {
			engine.SetPolicy(cap, permissions.CapabilityPolicy(value))
		}
	}
	return engine
}

func buildContextManager(cfg *config.Config, logger *slog.Logger) (*contextmgr.Manager, error) {
	manager := contextmgr.NewManager(logger)
	if !cfg.Context.Thresholds.IsZero() {
		t := contextmgr.Thresholds{
			Warning:  cfg.Context.Thresholds.Warning,
			Critical: cfg.Context.Thresholds.Critical,
			Overflow: cfg.Context.Thresholds.Overflow,
		}
		if err := manager.AddPattern("*", t); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// contextWindowFor looks up the model's context window. Zero disables
// compaction, which is also the fallback for models the adapter does not
// enumerate.
func contextWindowFor(provider providers.Provider, model string, cfg *config.Config) int {
	if !cfg.ContextEnabled() {
		return 0
	}
	for _, info := range provider.Models() {
		if info.ID == model {
			return info.ContextWindow
		}
	}
	return 0
}

func loopConfig(cfg *config.Config, provider providers.Provider) agent.Config {
	lc := agent.Config{
		Model:         cfg.LLM.Model,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		MaxTurns:      cfg.Agent.MaxTurns,
		MaxToolCalls:  cfg.Agent.MaxToolCalls,
		MaxRetries:    cfg.Agent.MaxRetries,
		ContextWindow: contextWindowFor(provider, cfg.LLM.Model, cfg),
	}
	if cfg.Thinking.Enabled {
		lc.Thinking = &providers.ThinkingConfig{
			Enabled:         true,
			BudgetTokens:    cfg.Thinking.BudgetTokens,
			ReasoningEffort: cfg.Thinking.ReasoningEffort,
		}
	}
	return lc
}
