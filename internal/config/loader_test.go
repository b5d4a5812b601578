package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name            string
		globalConfig    string
		projectConfig   string
		expectProviders int
		expectAgents    int
		checkAgent      string
		expectProvider  string
		expectModel     string
		expectPrompt    string
		expectMax       int
	}{
		{
			name:            "No config files - returns defaults",
			expectProviders: 1,
			expectAgents:    3,
			expectMax:       2,
		},
		{
			name: "Global only - adds provider and agent",
			globalConfig: `
providers:
  shell:
    command: sh
    type: command
agents:
  loop:
    provider: shell
`,
			expectProviders: 2,
			expectAgents:    4,
			checkAgent:      "loop",
			expectProvider:  "shell",
			expectMax:       2,
		},
		{
			name: "Project only - overrides one field and keeps the rest",
			projectConfig: `
butler:
  max_concurrent: 4
agents:
  email:
    model: small-model
`,
			expectProviders: 1,
			expectAgents:    3,
			checkAgent:      "email",
			expectProvider:  "claude",
			expectModel:     "small-model",
			expectPrompt:    "You triage, summarize and draft email.",
			expectMax:       4,
		},
		{
			name: "Project overrides global - project wins",
			globalConfig: `
butler:
  max_concurrent: 3
agents:
  default:
    model: model-x
`,
			projectConfig: `
agents:
  default:
    model: model-y
`,
			expectProviders: 1,
			expectAgents:    3,
			checkAgent:      "default",
			expectProvider:  "claude",
			expectModel:     "model-y",
			expectMax:       3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()

			globalPath := ""
			if tt.globalConfig != "" {
				globalPath = writeFile(t, tmpDir, "global.yaml", tt.globalConfig)
			}
			projectPath := ""
			if tt.projectConfig != "" {
				projectPath = writeFile(t, tmpDir, "project.yaml", tt.projectConfig)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := len(cfg.Providers); got != tt.expectProviders {
				t.Errorf("providers count = %d, want %d", got, tt.expectProviders)
			}
			if got := len(cfg.Agents); got != tt.expectAgents {
				t.Errorf("agents count = %d, want %d", got, tt.expectAgents)
			}
			if cfg.Butler.MaxConcurrent != tt.expectMax {
				t.Errorf("max_concurrent = %d, want %d", cfg.Butler.MaxConcurrent, tt.expectMax)
			}

			if tt.checkAgent == "" {
				return
			}
			agent, exists := cfg.Agents[tt.checkAgent]
			if !exists {
				t.Fatalf("expected agent %q not found", tt.checkAgent)
			}
			if agent.Provider != tt.expectProvider {
				t.Errorf("agent %q provider = %q, want %q", tt.checkAgent, agent.Provider, tt.expectProvider)
			}
			if agent.Model != tt.expectModel {
				t.Errorf("agent %q model = %q, want %q", tt.checkAgent, agent.Model, tt.expectModel)
			}
			if tt.expectPrompt != "" && agent.SystemPrompt != tt.expectPrompt {
				t.Errorf("agent %q system prompt = %q, want %q", tt.checkAgent, agent.SystemPrompt, tt.expectPrompt)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Retry.InitialInterval != time.Second {
		t.Errorf("initial interval = %v, want 1s", cfg.Retry.InitialInterval)
	}
	if cfg.Retry.MaxElapsedTime != 2*time.Minute {
		t.Errorf("max elapsed = %v, want 2m", cfg.Retry.MaxElapsedTime)
	}
	if cfg.Retry.BreakerFailures != 5 {
		t.Errorf("breaker failures = %d, want 5", cfg.Retry.BreakerFailures)
	}
	if filepath.Base(cfg.Butler.DBPath) != "butler.db" {
		t.Errorf("unexpected db path %q", cfg.Butler.DBPath)
	}
	if filepath.Base(cfg.Butler.InboxPath) != "inbox" {
		t.Errorf("unexpected inbox path %q", cfg.Butler.InboxPath)
	}
}

func TestLoad_EnvironmentWins(t *testing.T) {
	tmpDir := t.TempDir()
	projectPath := writeFile(t, tmpDir, "project.yaml", "butler:\n  max_concurrent: 3\nlog:\n  level: warn\n")

	t.Setenv("BUTLER_MAX_CONCURRENT", "7")
	t.Setenv("BUTLER_LOG_FORMAT", "json")

	cfg, err := Load("", projectPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Butler.MaxConcurrent != 7 {
		t.Errorf("max_concurrent = %d, want 7", cfg.Butler.MaxConcurrent)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q, want json", cfg.Log.Format)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoad_JSONFile(t *testing.T) {
	tmpDir := t.TempDir()
	globalPath := writeFile(t, tmpDir, "global.json", `{"retry": {"max_interval": "5s"}}`)

	cfg, err := Load(globalPath, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retry.MaxInterval != 5*time.Second {
		t.Errorf("max interval = %v, want 5s", cfg.Retry.MaxInterval)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	tmpDir := t.TempDir()
	globalPath := writeFile(t, tmpDir, "global.yaml", "butler: [unclosed")

	_, err := Load(globalPath, "")
	if err == nil {
		t.Fatal("expected error for malformed YAML, got nil")
	}
}

func TestLoad_UnknownProvider(t *testing.T) {
	tmpDir := t.TempDir()
	projectPath := writeFile(t, tmpDir, "project.yaml", "agents:\n  ralph:\n    provider: missing\n")

	_, err := Load("", projectPath)
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.yaml", "/nonexistent/project.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}
	if len(cfg.Agents) != 3 {
		t.Errorf("agents count = %d, want 3", len(cfg.Agents))
	}
}

func TestConfigAgent(t *testing.T) {
	cfg := DefaultConfig()

	agent, provider, err := cfg.Agent("email")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agent.Provider != "claude" || provider.Command != "claude" {
		t.Errorf("unexpected agent/provider: %+v %+v", agent, provider)
	}

	if _, _, err := cfg.Agent("loop"); err == nil {
		t.Error("expected error for mode without agent")
	}
}
