package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/netloom/netloom/internal/cli/output"
	cfgpkg "github.com/netloom/netloom/pkg/config"
)

var showFormat string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration after merging the config file,
environment variables and defaults.

Secrets (database password, S3 keys) are included; pipe with care.`,
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showFormat, "output", "o", "yaml", "Output format (json|yaml)")
}

func runShow(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(showFormat)
	if err != nil {
		return err
	}

	cfg, err := cfgpkg.Load(configPath(cmd))
	if err != nil {
		return err
	}

	if format == output.FormatJSON {
		return output.PrintJSON(os.Stdout, cfg)
	}
	return output.PrintYAML(os.Stdout, cfg)
}
