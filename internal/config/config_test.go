package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "llm:\n  model: claude-sonnet-4-5\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q, want anthropic default", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.Agent.MaxTurns != 10 || cfg.Agent.MaxRetries != 2 {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if cfg.Permissions.Mode != "ask" {
		t.Errorf("permissions.mode = %q, want ask", cfg.Permissions.Mode)
	}
	if !cfg.ContextEnabled() {
		t.Error("context management should default to enabled")
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("VELLUM_TEST_MODEL", "gpt-4o")
	path := writeConfig(t, "llm:\n  model: ${VELLUM_TEST_MODEL}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("model = %q, want expanded env value", cfg.LLM.Model)
	}
}

func TestLoadFullDocument(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: openai
  model: gpt-4o
  maxTokens: 4096
  temperature: 0.3
agent:
  maxToolCalls: 40
  maxTurns: 20
  maxRetries: 3
permissions:
  mode: auto
  fileRead: auto
  fileWrite: ask
  shellExecute: ask
  networkAccess: never
contextManagement:
  enabled: true
  thresholds:
    warning: 0.70
    critical: 0.80
    overflow: 0.90
thinking:
  enabled: true
  budgetTokens: 2048
  reasoningEffort: high
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.MaxTokens != 4096 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.LLM.Temperature == nil || *cfg.LLM.Temperature != 0.3 {
		t.Errorf("temperature = %v", cfg.LLM.Temperature)
	}
	if cfg.Permissions.NetworkAccess != "never" {
		t.Errorf("networkAccess = %q", cfg.Permissions.NetworkAccess)
	}
	if cfg.Context.Thresholds.Warning != 0.70 {
		t.Errorf("thresholds = %+v", cfg.Context.Thresholds)
	}
	if cfg.Thinking.ReasoningEffort != "high" || cfg.Thinking.BudgetTokens != 2048 {
		t.Errorf("thinking = %+v", cfg.Thinking)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "bad capability policy",
			doc:  "permissions:\n  fileWrite: always\n",
			want: "fileWrite",
		},
		{
			name: "bad trust mode",
			doc:  "permissions:\n  mode: yolo\n",
			want: "permissions.mode",
		},
		{
			name: "unordered thresholds",
			doc:  "contextManagement:\n  thresholds:\n    warning: 0.9\n    critical: 0.8\n    overflow: 0.95\n",
			want: "thresholds",
		},
		{
			name: "threshold at one",
			doc:  "contextManagement:\n  thresholds:\n    warning: 0.7\n    critical: 0.8\n    overflow: 1.0\n",
			want: "thresholds",
		},
		{
			name: "bad reasoning effort",
			doc:  "thinking:\n  reasoningEffort: extreme\n",
			want: "reasoningEffort",
		},
		{
			name: "temperature out of range",
			doc:  "llm:\n  temperature: 3.5\n",
			want: "temperature",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.doc)
			_, err := Load(path)
			if err == nil {
				t.Fatal("invalid document accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestUnknownKeysIgnored(t *testing.T) {
	path := writeConfig(t, "llm:\n  model: m\nfutureFeature:\n  knob: 7\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("unknown top-level key rejected: %v", err)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.Agent.MaxTurns != 10 {
		t.Errorf("defaults = %+v", cfg)
	}
}
