package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/viper"
)

// Environment variables bound to configuration keys.
var envBindings = map[string]string{
	"butler.max_concurrent": "BUTLER_MAX_CONCURRENT",
	"butler.root_path":      "BUTLER_ROOT_PATH",
	"butler.db_path":        "BUTLER_DB_PATH",
	"butler.inbox_path":     "BUTLER_INBOX_PATH",
	"log.level":             "BUTLER_LOG_LEVEL",
	"log.format":            "BUTLER_LOG_FORMAT",
}

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): BUTLER_* environment, project
// config, global config, defaults. Missing files are not errors; malformed
// files are. The file type follows the extension (yaml, yml or json).
func Load(globalPath, projectPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := mergeConfigFile(v, globalPath); err != nil {
		return nil, fmt.Errorf("loading global config: %w", err)
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.butler/config.yaml
// Project: .butler/config.yaml (relative to cwd)
func LoadDefault() (*Config, error) {
	return Load(GlobalPath(), filepath.Join(".butler", "config.yaml"))
}

// GlobalPath returns the path of the global config file.
func GlobalPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

// mergeConfigFile reads a config file into its own viper and merges its
// settings over v. Missing files are silently skipped.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	fileViper := viper.New()
	fileViper.SetConfigFile(path)
	if err := fileViper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := v.MergeConfigMap(fileViper.AllSettings()); err != nil {
		return fmt.Errorf("merging %s: %w", path, err)
	}
	return nil
}

// Validate checks that every agent references a configured provider.
func (c *Config) Validate() error {
	var missing []string
	for mode, agent := range c.Agents {
		if _, ok := c.Providers[agent.Provider]; !ok {
			missing = append(missing, fmt.Sprintf("agent %q uses unknown provider %q", mode, agent.Provider))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("invalid config: %s", missing[0])
	}
	return nil
}

// Agent returns the agent and provider configured for a task mode.
func (c *Config) Agent(mode string) (AgentConfig, ProviderConfig, error) {
	agent, ok := c.Agents[mode]
	if !ok {
		return AgentConfig{}, ProviderConfig{}, fmt.Errorf("no agent configured for mode %q", mode)
	}
	provider, ok := c.Providers[agent.Provider]
	if !ok {
		return AgentConfig{}, ProviderConfig{}, fmt.Errorf("agent %q uses unknown provider %q", mode, agent.Provider)
	}
	return agent, provider, nil
}
