package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netloom/netloom/internal/cli/prompt"
	cfgpkg "github.com/netloom/netloom/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file populated with default values.

The file is written to the default location unless --config points
elsewhere. An existing file is only overwritten with --force or after
confirmation.

Examples:
  # Create the default config file
  netloom config init

  # Create a config file at a custom location
  netloom config init --config /etc/netloom/config.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if path == "" {
		path = cfgpkg.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		ok, err := prompt.ConfirmWithForce(
			fmt.Sprintf("Configuration file %s exists, overwrite", path), initForce)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted")
			return nil
		}
	}

	cfg := cfgpkg.GetDefaultConfig()
	if err := cfgpkg.SaveConfig(cfg, path); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}
