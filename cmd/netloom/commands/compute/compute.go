// Package compute implements the compute registry CLI commands.
//
// The commands manipulate the controller store directly and are meant to be
// used while the controller is stopped, e.g. to seed the first compute
// registration before bringing the controller up.
package compute

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netloom/netloom/pkg/config"
	"github.com/netloom/netloom/pkg/store"
)

// Cmd is the parent command for compute registry management.
var Cmd = &cobra.Command{
	Use:   "compute",
	Short: "Manage registered compute agents",
	Long: `Manage the compute agents registered with this controller.

Computes host the emulated nodes. Every project resource is scheduled on one
of the registered computes, so at least one registration (or the --local
start flag) is required before creating nodes.`,
}

func init() {
	Cmd.AddCommand(addCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(removeCmd)
}

// openStore loads configuration and opens the controller store.
func openStore(cmd *cobra.Command) (*store.GORMStore, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open controller store: %w", err)
	}
	return st, nil
}
