package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// scaffoldHeader is prepended to generated config files.
const scaffoldHeader = `# pentra configuration
#
# Precedence: environment variables, then .pentra.yaml in the project,
# then this file, then built-in defaults. Durations use Go syntax (10m, 24h).
`

// scaffoldFile mirrors Config with yaml tags so the generated file uses the
// same keys viper reads back.
type scaffoldFile struct {
	Provider map[string]any   `yaml:"provider"`
	Safety   map[string]any   `yaml:"safety"`
	Run      map[string]any   `yaml:"run"`
	Limits   map[string]any   `yaml:"limits"`
	Rules    []map[string]any `yaml:"rules"`
}

// Scaffold writes a starter configuration file at path. It refuses to
// overwrite an existing file.
func Scaffold(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	def := Default()
	doc := scaffoldFile{
		Provider: map[string]any{
			"name":        def.Provider.Name,
			"model":       def.Provider.Model,
			"api_key_env": def.Provider.APIKeyEnv,
		},
		Safety: map[string]any{
			"safe_mode":         def.Safety.SafeMode,
			"network_discovery": def.Safety.NetworkDiscovery,
		},
		Run: map[string]any{
			"repos_root":    "${HOME}/pentra/repos",
			"runs_root":     "${HOME}/pentra/runs",
			"config_window": def.Run.ConfigWindow.String(),
		},
		Limits: map[string]any{
			"phase_timeout":   def.Limits.PhaseTimeout.String(),
			"max_attempts":    def.Limits.MaxAttempts,
			"backoff_initial": def.Limits.BackoffInitial.String(),
			"backoff_factor":  def.Limits.BackoffFactor,
			"backoff_max":     def.Limits.BackoffMax.String(),
		},
		Rules: []map[string]any{
			{
				"action":      "avoid",
				"type":        "host",
				"value":       "*.prod.example.com",
				"description": "never touch production",
			},
		},
	}

	body, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling scaffold config: %w", err)
	}
	return os.WriteFile(path, append([]byte(scaffoldHeader), body...), 0600)
}
