package compute

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netloom/netloom/internal/cli/prompt"
	"github.com/netloom/netloom/pkg/models"
)

var removeForce bool

var removeCmd = &cobra.Command{
	Use:   "remove <compute-id>",
	Short: "Deregister a compute agent",
	Long: `Deregister a compute agent from the controller.

Nodes placed on the compute are not touched; projects referencing it fail to
open until the compute is registered again or the nodes are moved.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().BoolVarP(&removeForce, "force", "f", false, "Skip confirmation prompt")
}

func runRemove(cmd *cobra.Command, args []string) error {
	computeID := args[0]

	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()

	record, err := st.GetCompute(ctx, computeID)
	if err != nil {
		if errors.Is(err, models.ErrComputeNotFound) {
			return fmt.Errorf("compute %q is not registered", computeID)
		}
		return fmt.Errorf("failed to look up compute: %w", err)
	}

	ok, err := prompt.ConfirmWithForce(
		fmt.Sprintf("Deregister compute %q (%s)", record.Name, computeID), removeForce)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Aborted")
		return nil
	}

	if err := st.DeleteCompute(ctx, computeID); err != nil {
		return fmt.Errorf("failed to deregister compute: %w", err)
	}

	fmt.Printf("Compute %q deregistered\n", computeID)
	return nil
}
