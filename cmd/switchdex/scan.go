package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/obentoo/switchdex/internal/common/logger"
	"github.com/obentoo/switchdex/internal/common/output"
	"github.com/obentoo/switchdex/internal/watch"
)

var (
	// scanCategory restricts the pass to one category
	scanCategory string
	// scanDryRun logs announcements instead of delivering them
	scanDryRun bool
	// scanAll also lists unchanged entities
	scanAll bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one pass now",
	Long: `Check every tracked entity once, announce changes and exit.

Examples:
  switchdex scan                       Check all categories
  switchdex scan --category firmware   Check firmware only
  switchdex scan --dry-run --all       Show every result without announcing`,
	Run: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanCategory, "category", "", "Only check this category (game, application, firmware, user-repository)")
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Log announcements instead of delivering them")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List unchanged entities too")

	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) {
	var category watch.Category
	if scanCategory != "" {
		c, err := watch.ParseCategory(scanCategory)
		if err != nil {
			logger.Error("%v", err)
			os.Exit(1)
		}
		category = c
	}

	a, err := newApp(appOptions{dryRun: scanDryRun})
	if err != nil {
		logger.Error("failed to start: %v", err)
		os.Exit(1)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := runScanPass(ctx, a, category)
	if errors.Is(err, watch.ErrPassInProgress) {
		logger.Error("%v: a watcher using %s is scanning, try again later", err, a.cfg.DataDir)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	displayPassSummary(summary, scanAll)
	if scanAll {
		displayReliability(a.scanner.Reliability().Snapshot())
	}
}

// runScanPass runs one pass while holding the data directory lock, so it never
// overlaps a pass of a running watcher
func runScanPass(ctx context.Context, a *app, category watch.Category) (watch.PassSummary, error) {
	release, err := watch.AcquirePassLock(a.passLock)
	if err != nil {
		return watch.PassSummary{}, err
	}
	defer release()

	if category != "" {
		return a.scanner.RunCategory(ctx, category), nil
	}
	return a.scanner.RunPass(ctx), nil
}

// displayReliability prints the per-source success counts of the pass
func displayReliability(stats []watch.SourceStats) {
	if len(stats) == 0 {
		return
	}
	fmt.Println()
	output.Header.Println("Source Reliability")
	for _, line := range formatReliability(stats) {
		fmt.Printf("  %s\n", line)
	}
}

// formatReliability renders one line per source with its score
func formatReliability(stats []watch.SourceStats) []string {
	lines := make([]string, len(stats))
	for i, s := range stats {
		lines[i] = fmt.Sprintf("%-16s %3d ok %3d failed  score %.2f", s.Source, s.Successes, s.Failures, s.Score())
	}
	return lines
}

// displayPassSummary prints per-entity outcomes and the pass totals
func displayPassSummary(summary watch.PassSummary, all bool) {
	if summary.Checked == 0 {
		logger.Info("No entities to check")
		return
	}

	fmt.Println()
	output.Header.Println("Scan Results")
	fmt.Println()

	for _, r := range summary.Results {
		if !all && (r.Outcome == watch.OutcomeUnchanged || r.Outcome == watch.OutcomeNoVote) {
			continue
		}
		fmt.Printf("  %s %s %s\n", output.FormatStatus(string(r.Outcome)),
			output.FormatEntity(string(r.Category), r.EntityID), describeResult(r))
	}

	fmt.Println()
	output.Info.Println(passTotals(summary))

	if summary.Failed > 0 {
		output.Warning.Printf("%d entity check(s) failed\n", summary.Failed)
	}
	if len(summary.RateLimited) > 0 {
		output.Warning.Printf("Rate limited: %v (%d call(s) skipped)\n", summary.RateLimited, summary.Skipped)
	}
}

// passTotals renders the counters of a pass on one line
func passTotals(summary watch.PassSummary) string {
	return fmt.Sprintf("%d checked in %s: %d updated, %d suppressed, %d baseline, %d without votes",
		summary.Checked, summary.Finished.Sub(summary.Started).Round(time.Second),
		summary.Updated, summary.Suppressed, summary.Baseline, summary.NoVote)
}

// describeResult renders the version part of a result line
func describeResult(r watch.EntityResult) string {
	switch r.Outcome {
	case watch.OutcomeFailed:
		return output.Sprintf(output.Failed, "%v", r.Error)
	case watch.OutcomeUpdated, watch.OutcomeSuppressed:
		return fmt.Sprintf("%s → %s", r.StoredVersion, r.Version)
	case watch.OutcomeNoVote:
		return output.Sprintf(output.Dim, "no source answered")
	default:
		return r.Version
	}
}
