package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/obentoo/switchdex/internal/common/config"
	"github.com/obentoo/switchdex/internal/common/logger"
	"github.com/obentoo/switchdex/internal/common/output"
	"github.com/obentoo/switchdex/internal/watch"
)

var (
	// historyLimit is how many events are listed
	historyLimit int
	// historyStats prints aggregate counters instead of events
	historyStats bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent announcements",
	Long: `Show the most recent announcements, newest first, or aggregate statistics.

Examples:
  switchdex history             Last 10 announcements
  switchdex history -n 50       Last 50 announcements
  switchdex history --stats     Counts per category and entity`,
	Run: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of events to list")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "Show aggregate statistics")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg, _, err := loadConfig()
	if err != nil {
		logger.Error("loading config: %v", err)
		os.Exit(1)
	}

	history, err := openHistory(cfg)
	if err != nil {
		logger.Error("failed to open history: %v", err)
		os.Exit(1)
	}

	if historyStats {
		displayHistoryStats(history.Stats())
		return
	}
	displayHistory(history.Recent(historyLimit))
}

func openHistory(cfg *config.Config) (*watch.History, error) {
	return watch.NewHistory(cfg.DataDir, watch.WithHistoryCapacity(cfg.History.Capacity))
}

// displayHistory prints events newest first
func displayHistory(events []watch.NotificationEvent) {
	if len(events) == 0 {
		logger.Info("No announcements yet")
		return
	}

	fmt.Println()
	output.Header.Println("Recent Announcements")
	fmt.Println()

	for _, ev := range events {
		scope := ""
		if ev.Scope != watch.ScopeGlobal {
			scope = output.Sprintf(output.Dim, " [%s]", ev.Scope)
		}
		delivery := output.Sprintf(output.Dim, "%d sent", ev.Delivered)
		if ev.Failed > 0 {
			delivery += output.Sprintf(output.Warning, ", %d failed", ev.Failed)
		}
		fmt.Printf("  %s %s %s → %s%s (%s)\n",
			ev.DetectedAt.Local().Format("2006-01-02 15:04"),
			output.FormatEntity(string(ev.Category), ev.EntityID),
			ev.FromVersion, ev.ToVersion, scope, delivery)
		if len(ev.Sources) > 0 {
			output.Dim.Printf("      via %s\n", strings.Join(ev.Sources, ", "))
		}
	}
}

// displayHistoryStats prints the aggregate counters
func displayHistoryStats(stats watch.HistoryStats) {
	fmt.Println()
	output.Header.Println("Announcement Statistics")
	fmt.Println()

	fmt.Printf("  total:      %d\n", stats.Total)
	fmt.Printf("  delivered:  %d\n", stats.Delivered)
	fmt.Printf("  failed:     %d\n", stats.Failed)
	if !stats.LastUpdate.IsZero() {
		fmt.Printf("  last:       %s\n", stats.LastUpdate.Local().Format("2006-01-02 15:04"))
	}

	if len(stats.ByCategory) > 0 {
		fmt.Println()
		for _, c := range watch.Categories() {
			if n := stats.ByCategory[c]; n > 0 {
				fmt.Printf("  %-16s %d\n", c, n)
			}
		}
	}

	if len(stats.ByEntity) > 0 {
		type entry struct {
			id string
			n  int
		}
		entries := make([]entry, 0, len(stats.ByEntity))
		for id, n := range stats.ByEntity {
			entries = append(entries, entry{id, n})
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].n != entries[j].n {
				return entries[i].n > entries[j].n
			}
			return entries[i].id < entries[j].id
		})
		if len(entries) > 10 {
			entries = entries[:10]
		}

		fmt.Println()
		output.Header.Println("Most announced")
		for _, e := range entries {
			fmt.Printf("  %s %d\n", output.FormatEntity("", e.id), e.n)
		}
	}
}
