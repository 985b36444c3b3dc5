package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/go-devhandler/internal/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration after defaults and DEVHANDLER_ environment
overrides are applied, as YAML.

Examples:
  # Show the default configuration
  devhandler config show

  # Show a specific config file with an override
  DEVHANDLER_HANDLER_MAX_PROBE_ATTEMPTS=5 devhandler config show --config /etc/devhandler/config.yaml`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
