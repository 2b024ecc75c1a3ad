// Package commands implements the CLI commands for the netloom binary.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	computecmd "github.com/netloom/netloom/cmd/netloom/commands/compute"
	configcmd "github.com/netloom/netloom/cmd/netloom/commands/config"
)

var (
	// Version information injected at build time.
	Version = "2.2.0"
	Commit  = "none"
	Date    = "unknown"
)

// RuntimeError marks failures that happened after startup completed.
// The process exits with code 2 for these, 1 for initialization failures.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string { return e.Err.Error() }
func (e *RuntimeError) Unwrap() error { return e.Err }

var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "netloom",
	Short: "NetLoom - Network emulation controller",
	Long: `netloom runs the NetLoom controller: the coordination point for a fleet
of compute agents hosting emulated network topologies.

The controller exposes a REST API for projects, nodes, links, drawings and
snapshots, fans out topology events to subscribed clients, and forwards
emulator-specific requests to the owning compute.

Use "netloom [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return configFile
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		fmt.Sprintf("Config file (default: %s)", "$XDG_CONFIG_HOME/netloom/config.yaml"))

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(computecmd.Cmd)
	rootCmd.AddCommand(configcmd.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
