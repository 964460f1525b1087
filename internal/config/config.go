// Package config handles configuration loading and management for pentra.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/pentra-dev/pentra/internal/llm"
	"github.com/pentra-dev/pentra/internal/phase"
	"github.com/pentra-dev/pentra/internal/rules"
	"github.com/pentra-dev/pentra/pkg/models"
)

// Config holds all configuration for pentra.
type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Safety   SafetyConfig   `mapstructure:"safety"`
	Run      RunConfig      `mapstructure:"run"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Rules    []RuleConfig   `mapstructure:"rules"`
	TUI      TUIConfig      `mapstructure:"tui"`
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	// Name selects the backend: anthropic or bedrock.
	Name string `mapstructure:"name"`
	// Model is the model identifier.
	Model string `mapstructure:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `mapstructure:"api_key_env"`
	// AWSRegion is the region for the bedrock provider.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional shared-config profile for bedrock.
	AWSProfile string `mapstructure:"aws_profile"`
}

// SafetyConfig holds assessment safety toggles.
type SafetyConfig struct {
	// SafeMode restricts every phase to read-only analysis.
	SafeMode bool `mapstructure:"safe_mode"`
	// NetworkDiscovery enables active host discovery. Off by default.
	NetworkDiscovery bool `mapstructure:"network_discovery"`
}

// RunConfig holds run layout and lifecycle settings.
type RunConfig struct {
	// ReposRoot is the directory all assessed repositories must live under.
	ReposRoot string `mapstructure:"repos_root"`
	// RunsRoot is where run directories and artifacts are written.
	RunsRoot string `mapstructure:"runs_root"`
	// ConfigWindow bounds how long a run waits for an update_config signal.
	ConfigWindow time.Duration `mapstructure:"config_window"`
}

// LimitsConfig holds phase execution bounds.
type LimitsConfig struct {
	PhaseTimeout   time.Duration `mapstructure:"phase_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// RuleConfig is one focus or avoid rule as written in YAML.
type RuleConfig struct {
	Action      string   `mapstructure:"action"`
	Type        string   `mapstructure:"type"`
	Value       string   `mapstructure:"value"`
	Phases      []string `mapstructure:"phases"`
	Description string   `mapstructure:"description"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, PENTRA_PROVIDER, PENTRA_MODEL)
// 2. Project config (.pentra.yaml in current directory or parent)
// 3. User config (~/.config/pentra/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("provider.name", "PENTRA_PROVIDER")
	v.BindEnv("provider.model", "PENTRA_MODEL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Run.ReposRoot = expandEnv(cfg.Run.ReposRoot)
	cfg.Run.RunsRoot = expandEnv(cfg.Run.RunsRoot)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file. It is also the
// reload path for corrected configs supplied via update_config.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Run.ReposRoot = expandEnv(cfg.Run.ReposRoot)
	cfg.Run.RunsRoot = expandEnv(cfg.Run.RunsRoot)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.name", "anthropic")
	v.SetDefault("provider.model", "claude-sonnet-4-5")
	v.SetDefault("provider.api_key_env", "ANTHROPIC_API_KEY")

	v.SetDefault("safety.safe_mode", true)
	v.SetDefault("safety.network_discovery", false)

	v.SetDefault("run.repos_root", "${HOME}/pentra/repos")
	v.SetDefault("run.runs_root", "${HOME}/pentra/runs")
	v.SetDefault("run.config_window", "24h")

	v.SetDefault("limits.phase_timeout", "10m")
	v.SetDefault("limits.max_attempts", 3)
	v.SetDefault("limits.backoff_initial", "2s")
	v.SetDefault("limits.backoff_factor", 2.0)
	v.SetDefault("limits.backoff_max", "30s")

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for pentra.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "pentra")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "pentra")
	}
	return filepath.Join(home, ".config", "pentra")
}

// findProjectConfig searches for .pentra.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".pentra.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:      "anthropic",
			Model:     "claude-sonnet-4-5",
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Safety: SafetyConfig{
			SafeMode:         true,
			NetworkDiscovery: false,
		},
		Run: RunConfig{
			ReposRoot:    expandEnv("${HOME}/pentra/repos"),
			RunsRoot:     expandEnv("${HOME}/pentra/runs"),
			ConfigWindow: 24 * time.Hour,
		},
		Limits: LimitsConfig{
			PhaseTimeout:   10 * time.Minute,
			MaxAttempts:    3,
			BackoffInitial: 2 * time.Second,
			BackoffFactor:  2.0,
			BackoffMax:     30 * time.Second,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}

// RuleDecls converts the configured rules into engine declarations.
func (c *Config) RuleDecls() []rules.Decl {
	decls := make([]rules.Decl, 0, len(c.Rules))
	for _, r := range c.Rules {
		decl := rules.Decl{
			Action:      rules.Action(r.Action),
			Type:        rules.TargetType(r.Type),
			Value:       r.Value,
			Description: r.Description,
		}
		for _, p := range r.Phases {
			decl.Phases = append(decl.Phases, models.Phase(p))
		}
		decls = append(decls, decl)
	}
	return decls
}

// ExecutorConfig maps the configured limits to executor bounds.
func (c *Config) ExecutorConfig() phase.ExecutorConfig {
	return phase.ExecutorConfig{
		Timeout:        c.Limits.PhaseTimeout,
		MaxAttempts:    c.Limits.MaxAttempts,
		BackoffInitial: c.Limits.BackoffInitial,
		BackoffFactor:  c.Limits.BackoffFactor,
		BackoffMax:     c.Limits.BackoffMax,
	}
}

// ClientConfig maps the provider section to an LLM client config.
func (c *Config) ClientConfig() llm.ClientConfig {
	return llm.ClientConfig{
		Provider:   llm.Provider(c.Provider.Name),
		Model:      c.Provider.Model,
		APIKeyEnv:  c.Provider.APIKeyEnv,
		AWSRegion:  c.Provider.AWSRegion,
		AWSProfile: c.Provider.AWSProfile,
	}
}
