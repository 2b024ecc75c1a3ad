package compute

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netloom/netloom/internal/cli/output"
)

var listFormat string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered compute agents",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listFormat, "output", "o", "table", "Output format (table|json|yaml)")
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(listFormat)
	if err != nil {
		return err
	}

	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	computes, err := st.ListComputes(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list computes: %w", err)
	}

	printer := output.NewPrinter(os.Stdout, format)
	if format != output.FormatTable {
		return printer.Print(computes)
	}

	table := output.NewTableData("Compute ID", "Name", "Endpoint", "User")
	for _, c := range computes {
		table.AddRow(c.ComputeID, c.Name, fmt.Sprintf("%s://%s:%d", c.Protocol, c.Host, c.Port), c.User)
	}
	return printer.Print(table)
}
