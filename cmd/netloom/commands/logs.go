package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var (
	logsFollow bool
	logsLines  int
	logsFile   string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show controller logs",
	Long: `Show the daemon log file of the NetLoom controller.

Examples:
  # Show the last 50 lines
  netloom logs

  # Follow new log output
  netloom logs -f

  # Show the last 200 lines of a custom log file
  netloom logs -n 200 --log-file /var/log/netloom.log`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "Number of lines to show")
	logsCmd.Flags().StringVar(&logsFile, "log-file", "", "Path to log file (default: $XDG_STATE_HOME/netloom/netloom.log)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	logPath := logsFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	file, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("log file not found: %s\n\nHas the controller been started in daemon mode?", logPath)
		}
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	offset, err := printTail(file, logsLines)
	if err != nil {
		return err
	}

	if !logsFollow {
		return nil
	}

	return followLog(file, logPath, offset)
}

// printTail prints the last n lines of the file and returns the end offset.
func printTail(file *os.File, n int) (int64, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return 0, fmt.Errorf("failed to read log file: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}

	return int64(len(data)), nil
}

// followLog watches the file for appended data and prints it as it arrives.
// Truncation (log rotation) resets the read offset to the new end.
func followLog(file *os.File, logPath string, offset int64) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(logPath); err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write == 0 {
				continue
			}

			info, err := file.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat log file: %w", err)
			}
			if info.Size() < offset {
				offset = info.Size()
				continue
			}

			if _, err := file.Seek(offset, io.SeekStart); err != nil {
				return fmt.Errorf("failed to seek log file: %w", err)
			}
			data, err := io.ReadAll(file)
			if err != nil {
				return fmt.Errorf("failed to read log file: %w", err)
			}
			fmt.Print(string(data))
			offset += int64(len(data))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("file watcher error: %w", err)
		}
	}
}
