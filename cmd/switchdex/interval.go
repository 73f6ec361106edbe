package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/obentoo/switchdex/internal/common/config"
	"github.com/obentoo/switchdex/internal/common/logger"
	"github.com/obentoo/switchdex/internal/common/output"
)

var intervalCmd = &cobra.Command{
	Use:   "interval [minutes]",
	Short: "Show or change the scan interval",
	Long: `Without an argument, print the configured interval. With one, store a new
interval between 1 and 1440 minutes. A running watcher applies it on SIGHUP.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runInterval,
}

func init() {
	rootCmd.AddCommand(intervalCmd)
}

func runInterval(cmd *cobra.Command, args []string) {
	cfg, path, err := loadConfig()
	if err != nil {
		logger.Error("loading config: %v", err)
		os.Exit(1)
	}

	if len(args) == 0 {
		output.PrintInfo("Scanning every %d minutes", cfg.Scan.IntervalMinutes)
		return
	}

	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		logger.Error("invalid interval %q: expected a number of minutes", args[0])
		os.Exit(1)
	}
	if err := config.SetInterval(path, minutes); err != nil {
		logger.Error("saving config: %v", err)
		os.Exit(1)
	}
	output.PrintSuccess("Interval set to %d minutes", minutes)
	output.PrintInfo("Send SIGHUP to a running 'switchdex watch' to apply it")
}
