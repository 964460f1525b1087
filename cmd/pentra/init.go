package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pentra-dev/pentra/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up pentra configuration",
	Long: `Set up everything needed to run pentra:
  - Writes a commented default config to ~/.config/pentra/config.yaml
  - Creates the repos and runs directories
  - Checks that provider credentials are available

Examples:
  pentra init            # First-time setup
  pentra init --force    # Rewrite the config even if one exists`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := config.GetUserConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		if !initForce {
			printStatus("✓", fmt.Sprintf("Config already exists at %s (use --force to rewrite)", configPath), color.FgGreen)
		} else {
			if err := os.Remove(configPath); err != nil {
				return fmt.Errorf("remove old config: %w", err)
			}
			if err := config.Scaffold(configPath); err != nil {
				return err
			}
			printStatus("✓", fmt.Sprintf("Rewrote config at %s", configPath), color.FgGreen)
		}
	} else {
		if err := config.Scaffold(configPath); err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Created config at %s", configPath), color.FgGreen)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	for _, dir := range []string{cfg.Run.ReposRoot, cfg.Run.RunsRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	printStatus("✓", fmt.Sprintf("Repos root: %s", cfg.Run.ReposRoot), color.FgGreen)
	printStatus("✓", fmt.Sprintf("Runs root:  %s", cfg.Run.RunsRoot), color.FgGreen)

	templatePath := filepath.Join(filepath.Dir(configPath), "scope.template.json")
	if _, err := os.Stat(templatePath); os.IsNotExist(err) {
		if err := os.WriteFile(templatePath, []byte(scopeTemplate), 0o600); err != nil {
			return fmt.Errorf("write scope template: %w", err)
		}
		printStatus("✓", fmt.Sprintf("Created scope template at %s", templatePath), color.FgGreen)
	}

	if key, err := config.GetAPIKey(cfg); err != nil {
		printStatus("⚠", fmt.Sprintf("%s not set (you can set it later)", cfg.Provider.APIKeyEnv), color.FgYellow)
	} else if err := config.ValidateAPIKey(key); err != nil {
		printStatus("⚠", fmt.Sprintf("%s looks malformed: %v", cfg.Provider.APIKeyEnv, err), color.FgYellow)
	} else {
		printStatus("✓", fmt.Sprintf("%s is set (%s)", cfg.Provider.APIKeyEnv, config.MaskAPIKey(key)), color.FgGreen)
	}

	fmt.Printf("\n%s Pentra setup complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Printf("  1. Place the repository to assess under %s\n", cfg.Run.ReposRoot)
	fmt.Println("  2. pentra run <repo-path> --url <target-url>")
	return nil
}

// scopeTemplate is a starting point for documenting an engagement's
// authorization boundaries before the first run.
const scopeTemplate = `{
  "target_url": "https://staging.example.com",
  "authorized": false,
  "notes": "Record who authorized this assessment and when.",
  "exclusions": [
    "payment-processor",
    "third-party-integrations"
  ],
  "focus_paths": [],
  "avoid_paths": []
}
`

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
