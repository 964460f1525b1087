package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pentra-dev/pentra/internal/rules"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Provider.Name != "anthropic" {
		t.Errorf("provider = %s, want anthropic", cfg.Provider.Name)
	}
	if !cfg.Safety.SafeMode {
		t.Error("safe mode should default on")
	}
	if cfg.Safety.NetworkDiscovery {
		t.Error("network discovery should default off")
	}
	if cfg.Run.ConfigWindow != 24*time.Hour {
		t.Errorf("config window = %v, want 24h", cfg.Run.ConfigWindow)
	}
	if cfg.Limits.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.Limits.MaxAttempts)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
provider:
  name: bedrock
  model: claude-sonnet-4-5
  aws_region: us-west-2
safety:
  safe_mode: true
limits:
  phase_timeout: 5m
  max_attempts: 2
rules:
  - action: avoid
    type: host
    value: "*.prod.example.com"
    description: never touch production
  - action: focus
    type: tag
    value: auth
    phases: [recon, vuln]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Provider.Name != "bedrock" {
		t.Errorf("provider = %s, want bedrock", cfg.Provider.Name)
	}
	if cfg.Provider.AWSRegion != "us-west-2" {
		t.Errorf("region = %s, want us-west-2", cfg.Provider.AWSRegion)
	}
	if cfg.Limits.PhaseTimeout != 5*time.Minute {
		t.Errorf("phase timeout = %v, want 5m", cfg.Limits.PhaseTimeout)
	}
	// Unset keys fall back to defaults.
	if cfg.Limits.BackoffInitial != 2*time.Second {
		t.Errorf("backoff initial = %v, want default 2s", cfg.Limits.BackoffInitial)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(cfg.Rules))
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadFromPath() accepted a missing file")
	}
}

func TestRuleDeclsCompile(t *testing.T) {
	cfg := Default()
	cfg.Rules = []RuleConfig{
		{Action: "avoid", Type: "host", Value: "*.prod.example.com"},
		{Action: "focus", Type: "analyzer", Value: "auth_model_builder", Phases: []string{"recon"}},
	}

	decls := cfg.RuleDecls()
	if len(decls) != 2 {
		t.Fatalf("decls = %d, want 2", len(decls))
	}
	if _, err := rules.Compile(decls); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
}

func TestRuleDeclsRejectBadRule(t *testing.T) {
	cfg := Default()
	cfg.Rules = []RuleConfig{{Action: "block", Type: "host", Value: "x"}}
	if _, err := rules.Compile(cfg.RuleDecls()); err == nil {
		t.Fatal("invalid action compiled")
	}
}

func TestExecutorConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.Limits.PhaseTimeout = 7 * time.Minute
	ec := cfg.ExecutorConfig()
	if ec.Timeout != 7*time.Minute {
		t.Errorf("executor timeout = %v, want 7m", ec.Timeout)
	}
	if ec.BackoffFactor != 2.0 {
		t.Errorf("backoff factor = %v, want 2.0", ec.BackoffFactor)
	}
}

func TestScaffoldRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Scaffold(path); err != nil {
		t.Fatalf("Scaffold() error = %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Provider.Name != "anthropic" {
		t.Errorf("provider = %s, want anthropic", cfg.Provider.Name)
	}
	if !cfg.Safety.SafeMode {
		t.Error("scaffold lost safe mode default")
	}
	if len(cfg.Rules) == 0 {
		t.Error("scaffold should include an example rule")
	}
	if _, err := rules.Compile(cfg.RuleDecls()); err != nil {
		t.Errorf("scaffold rules do not compile: %v", err)
	}
}

func TestScaffoldRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Scaffold(path); err != nil {
		t.Fatalf("Scaffold() error = %v", err)
	}
	if err := Scaffold(path); err == nil {
		t.Fatal("Scaffold() overwrote an existing file")
	}
}

func TestGetAPIKey(t *testing.T) {
	t.Setenv("PENTRA_TEST_KEY", "sk-ant-REDACTED")
	cfg := Default()
	cfg.Provider.APIKeyEnv = "PENTRA_TEST_KEY"

	key, err := GetAPIKey(cfg)
	if err != nil {
		t.Fatalf("GetAPIKey() error = %v", err)
	}
	if key != "sk-ant-REDACTED" {
		t.Errorf("key = %q", key)
	}

	cfg.Provider.APIKeyEnv = "PENTRA_TEST_KEY_UNSET"
	if _, err := GetAPIKey(cfg); err != ErrNoAPIKey {
		t.Errorf("GetAPIKey() error = %v, want ErrNoAPIKey", err)
	}
}

func TestMaskAPIKey(t *testing.T) {
	if got := MaskAPIKey(""); got != "(not set)" {
		t.Errorf("MaskAPIKey(empty) = %q", got)
	}
	masked := MaskAPIKey("sk-ant-REDACTED")
	if masked == "sk-ant-REDACTED" {
		t.Error("key not masked")
	}
	if len(masked) == 0 {
		t.Error("masked key empty")
	}
}
