// Package config implements the configuration CLI commands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for configuration management.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage controller configuration",
	Long: `Manage the NetLoom controller configuration file.

The configuration lives at $XDG_CONFIG_HOME/netloom/config.yaml by default
and can be overridden with the global --config flag.`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(schemaCmd)
}

// configPath resolves the --config flag, falling back to empty (default
// location).
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	return path
}
