package compute

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/netloom/netloom/internal/cli/prompt"
	"github.com/netloom/netloom/pkg/models"
)

var (
	addComputeID string
	addName      string
	addProtocol  string
	addHost      string
	addPort      int
	addUser      string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a compute agent",
	Long: `Register a compute agent with the controller.

Prompts for any connection detail not given as a flag. When --user is set,
the password is prompted interactively and never accepted on the command
line.

Examples:
  # Register interactively
  netloom compute add

  # Register with flags
  netloom compute add --host 10.0.0.5 --port 3080 --protocol http

  # Register with HTTP basic auth credentials
  netloom compute add --host 10.0.0.5 --user admin`,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addComputeID, "compute-id", "", "Compute identifier (default: random UUID)")
	addCmd.Flags().StringVar(&addName, "name", "", "Display name (default: protocol://host:port)")
	addCmd.Flags().StringVar(&addProtocol, "protocol", "http", "Protocol (http or https)")
	addCmd.Flags().StringVar(&addHost, "host", "", "Compute host address")
	addCmd.Flags().IntVar(&addPort, "port", 3080, "Compute API port")
	addCmd.Flags().StringVar(&addUser, "user", "", "HTTP basic auth user")
}

func runAdd(cmd *cobra.Command, args []string) error {
	host := addHost
	if host == "" {
		var err error
		host, err = prompt.InputRequired("Compute host")
		if err != nil {
			return err
		}
	}

	port := addPort
	if !cmd.Flags().Changed("port") && !cmd.Flags().Changed("host") {
		var err error
		port, err = prompt.InputPort("Compute port", addPort)
		if err != nil {
			return err
		}
	}

	var password string
	if addUser != "" {
		var err error
		password, err = prompt.Password(fmt.Sprintf("Password for %s", addUser))
		if err != nil {
			return err
		}
	}

	computeID := addComputeID
	if computeID == "" {
		computeID = uuid.New().String()
	}
	name := addName
	if name == "" {
		name = fmt.Sprintf("%s://%s:%d", addProtocol, host, port)
	}

	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	record := &models.ComputeRecord{
		ComputeID: computeID,
		Name:      name,
		Protocol:  addProtocol,
		Host:      host,
		Port:      port,
		User:      addUser,
		Password:  password,
	}

	if err := st.CreateCompute(context.Background(), record); err != nil {
		if errors.Is(err, models.ErrDuplicateCompute) {
			return fmt.Errorf("compute %q is already registered", computeID)
		}
		return fmt.Errorf("failed to register compute: %w", err)
	}

	fmt.Printf("Compute %q registered (%s)\n", name, computeID)
	fmt.Println("The controller picks up the registration on next start.")
	return nil
}
