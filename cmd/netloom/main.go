package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/netloom/netloom/cmd/netloom/commands"
)

// Build-time variables injected via ldflags
var (
	version = "2.2.0"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Set version info for commands package
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		var runtimeErr *commands.RuntimeError
		if errors.As(err, &runtimeErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
