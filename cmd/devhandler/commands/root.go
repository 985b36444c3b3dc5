// Package commands implements the devhandler command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/go-devhandler/cmd/devhandler/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "devhandler",
	Short: "SCSI device handlers for optical, disk and tape units",
	Long: `devhandler attaches SCSI logical units to media handlers that negotiate
the unit's block size and keep it current as commands complete.

Units are either SCSI generic nodes (/dev/sgN) or emulated in memory.

Use "devhandler [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("devhandler %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/devhandler/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(config.Cmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
