package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/messagesd/config"
)

// ConfigCmd manages the daemon configuration.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage messagesd configuration",
	Long: `Manage messagesd configuration.

Configuration sources (in order of precedence):
1. Environment variables (MSGD_* prefix)
2. Project config (.messagesd.toml, searched up from the working directory)
3. User config (~/.messagesd/config.toml)
4. System config (/etc/messagesd/config.toml)
5. Default values

Examples:
  messagesd config init                 # Write a starter config
  messagesd config show                 # Show effective configuration
  messagesd config show --format json`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a starter configuration file with every setting at its default.

Refuses to overwrite an existing file. The default location is
~/.messagesd/config.toml; override with --path.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  "Display the merged configuration from all sources, including derived paths.",
	RunE:  runConfigShow,
}

var (
	configInitPath string
	configFormat   string
)

func init() {
	configInitCmd.Flags().StringVar(&configInitPath, "path", "", "Target file (default ~/.messagesd/config.toml)")
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	ConfigCmd.AddCommand(configInitCmd)
	ConfigCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configInitPath
	if path == "" {
		path = config.UserConfigPath()
	}
	if path == "" {
		return fmt.Errorf("cannot resolve home directory; pass --path")
	}

	if err := config.WriteStarter(path); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote starter configuration to %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# messagesd configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# messagesd configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}
