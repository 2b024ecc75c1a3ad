package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/netloom/netloom/internal/cli/output"
	"github.com/netloom/netloom/pkg/config"
)

var statusPidFile string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show controller status",
	Long: `Show whether the NetLoom controller is running and probe its API.

Checks the PID file for a live process and queries the /v2/version and
/v2/statistics endpoints for a health summary.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/netloom/netloom.pid)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	pairs := [][2]string{}

	pid, running := isProcessRunning(pidPath)
	if running {
		pairs = append(pairs, [2]string{"Process", fmt.Sprintf("running (PID %d)", pid)})
	} else {
		pairs = append(pairs, [2]string{"Process", "not running"})
	}

	baseURL := apiBaseURL(cfg)
	pairs = append(pairs, [2]string{"API", baseURL})

	client := &http.Client{Timeout: 3 * time.Second}
	version, err := probeVersion(client, baseURL)
	if err != nil {
		pairs = append(pairs, [2]string{"API status", "unreachable"})
	} else {
		pairs = append(pairs, [2]string{"API status", "ok"})
		pairs = append(pairs, [2]string{"Version", version})

		if stats, err := probeStatistics(client, baseURL); err == nil {
			pairs = append(pairs,
				[2]string{"Computes", fmt.Sprintf("%d (%d connected)", stats["computes"], stats["computes_connected"])},
				[2]string{"Projects", fmt.Sprintf("%d (%d opened)", stats["projects"], stats["projects_opened"])},
				[2]string{"Nodes", fmt.Sprintf("%d", stats["nodes"])},
				[2]string{"Links", fmt.Sprintf("%d", stats["links"])},
			)
		}
	}

	return output.SimpleTable(os.Stdout, pairs)
}

// apiBaseURL builds the probe URL from the configured listen address.
func apiBaseURL(cfg *config.Config) string {
	scheme := "http"
	if cfg.API.SSL {
		scheme = "https"
	}
	host := cfg.API.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, cfg.API.Port)
}

func probeVersion(client *http.Client, baseURL string) (string, error) {
	resp, err := client.Get(baseURL + "/v2/version")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Version, nil
}

func probeStatistics(client *http.Client, baseURL string) (map[string]int, error) {
	resp, err := client.Get(baseURL + "/v2/statistics")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var stats map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}
	return stats, nil
}
