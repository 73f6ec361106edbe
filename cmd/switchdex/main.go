package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/obentoo/switchdex/internal/common/logger"
	"github.com/obentoo/switchdex/internal/common/output"
	"github.com/obentoo/switchdex/internal/common/version"
)

var (
	verbose bool
	quiet   bool
	noColor bool
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "switchdex",
	Short: "Console update tracker",
	Long: `SwitchDex watches game, homebrew, firmware and repository releases across
official sites, community wikis, forums and GitHub, agrees on one version per
entity and announces changes to subscribed Discord servers.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Configure logging based on flags
		if verbose {
			logger.SetVerbose(true)
		}
		if quiet {
			logger.SetQuiet(true)
		}
		if noColor {
			output.NoColor()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default ~/.config/switchdex/config.yaml)")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
