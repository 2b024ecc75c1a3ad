package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for netloom.

To load completions:

Bash:
  # Linux:
  $ netloom completion bash > /etc/bash_completion.d/netloom
  # macOS:
  $ netloom completion bash > $(brew --prefix)/etc/bash_completion.d/netloom

Zsh:
  # To load completions for each session, execute once:
  # Linux:
  $ netloom completion zsh > "${fpath[1]}/_netloom"
  # macOS:
  $ netloom completion zsh > $(brew --prefix)/share/zsh/site-functions/_netloom

Fish:
  $ netloom completion fish > ~/.config/fish/completions/netloom.fish

PowerShell:
  PS> netloom completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}
