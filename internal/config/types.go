// Package config loads butler configuration from built-in defaults, a global
// file, a project file and BUTLER_* environment variables.
package config

import (
	"time"
)

// ProviderConfig defines a transport layer (CLI command, args, base settings).
// Providers are separate from agents -- multiple agents can share one provider.
type ProviderConfig struct {
	Command string   `mapstructure:"command" yaml:"command"`     // Binary to execute (e.g., "claude")
	Args    []string `mapstructure:"args" yaml:"args,omitempty"` // Default args appended to every invocation
	Type    string   `mapstructure:"type" yaml:"type"`           // Backend type: "claude" or "command"
}

// AgentConfig binds a task mode to a provider and model.
type AgentConfig struct {
	Provider     string `mapstructure:"provider" yaml:"provider"`                     // Key into Providers map
	Model        string `mapstructure:"model" yaml:"model,omitempty"`                 // Model override
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"` // Mode-specific system prompt
}

// ButlerConfig holds scheduler and filesystem settings.
type ButlerConfig struct {
	MaxConcurrent int    `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	RootPath      string `mapstructure:"root_path" yaml:"root_path"`   // Parent of task workspaces
	DBPath        string `mapstructure:"db_path" yaml:"db_path"`       // SQLite database file
	InboxPath     string `mapstructure:"inbox_path" yaml:"inbox_path"` // Directory watched for batch files
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// RetryConfig tunes backend retries and the per-mode circuit breaker.
type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
	BreakerFailures uint32        `mapstructure:"breaker_failures" yaml:"breaker_failures"` // Consecutive failures that open the breaker
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout" yaml:"breaker_timeout"`   // Open state duration
}

// Config is the top-level configuration.
type Config struct {
	Butler    ButlerConfig              `mapstructure:"butler" yaml:"butler"`
	Log       LogConfig                 `mapstructure:"log" yaml:"log"`
	Retry     RetryConfig               `mapstructure:"retry" yaml:"retry"`
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Agents    map[string]AgentConfig    `mapstructure:"agents" yaml:"agents"` // Keyed by task mode
}
