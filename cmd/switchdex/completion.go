package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/obentoo/switchdex/internal/watch"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate a completion script for switchdex.

  $ source <(switchdex completion bash)
  $ switchdex completion zsh > "${fpath[1]}/_switchdex"
  $ switchdex completion fish > ~/.config/fish/completions/switchdex.fish
  PS> switchdex completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		switch args[0] {
		case "bash":
			rootCmd.GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
	},
}

// completeCategories offers category names for --category style flags
func completeCategories(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	categories := watch.Categories()
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	_ = scanCmd.RegisterFlagCompletionFunc("category", completeCategories)
	_ = tenantSubscribeCmd.RegisterFlagCompletionFunc("categories", completeCategories)

	rootCmd.AddCommand(completionCmd)
}
