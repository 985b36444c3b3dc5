package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/go-devhandler/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("Configuration is valid: %s (%d devices)\n", configPath, len(cfg.Devices))
		return nil
	},
}

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}
		if !initForce && fileExists(configPath) {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		cfg := config.GetDefaultConfig()
		cfg.Devices = []config.DeviceConfig{{
			Name:     "sr0",
			Type:     "cdrom",
			Emulated: &config.EmulatedConfig{BlockSize: 2048, Blocks: 32768, UnitAttentions: 1},
		}}
		if err := config.SaveConfig(cfg, configPath); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", configPath)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing file")
}
