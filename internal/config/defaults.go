package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// HomeDir returns the butler state directory, ~/.butler, falling back to a
// relative .butler when the home directory is unknown.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".butler"
	}
	return filepath.Join(home, ".butler")
}

// setDefaults configures default values. Map entries are set per leaf so that
// files only need to name the fields they change.
func setDefaults(v *viper.Viper) {
	home := HomeDir()

	v.SetDefault("butler.max_concurrent", 2)
	v.SetDefault("butler.root_path", filepath.Join(home, "tasks"))
	v.SetDefault("butler.db_path", filepath.Join(home, "butler.db"))
	v.SetDefault("butler.inbox_path", filepath.Join(home, "inbox"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("retry.initial_interval", "1s")
	v.SetDefault("retry.max_interval", "30s")
	v.SetDefault("retry.max_elapsed_time", "2m")
	v.SetDefault("retry.breaker_failures", 5)
	v.SetDefault("retry.breaker_timeout", "60s")

	v.SetDefault("providers.claude.command", "claude")
	v.SetDefault("providers.claude.type", "claude")

	v.SetDefault("agents.default.provider", "claude")
	v.SetDefault("agents.default.system_prompt", "You are a personal assistant completing one background task.")
	v.SetDefault("agents.ralph.provider", "claude")
	v.SetDefault("agents.ralph.system_prompt", "Keep iterating on the task until it is verifiably done.")
	v.SetDefault("agents.email.provider", "claude")
	v.SetDefault("agents.email.system_prompt", "You triage, summarize and draft email.")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	cfg := &Config{}
	// Defaults are static and always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}
