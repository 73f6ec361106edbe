package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/obentoo/switchdex/internal/common/github"
	"github.com/obentoo/switchdex/internal/common/logger"
	"github.com/obentoo/switchdex/internal/common/output"
	"github.com/obentoo/switchdex/internal/watch"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and the last known versions",
	Long: `Print the active configuration, the tenants receiving announcements and the
stored version of every tracked entity.`,
	Run: runStatus,
}

// quotaTimeout bounds the GitHub rate limit lookup
const quotaTimeout = 5 * time.Second

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	a, err := newApp(appOptions{dryRun: true})
	if err != nil {
		logger.Error("failed to load: %v", err)
		os.Exit(1)
	}
	defer a.close()

	fmt.Println()
	output.Header.Println("Configuration")
	fmt.Printf("  config:    %s\n", a.cfgPath)
	fmt.Printf("  catalog:   %s (%d entities)\n", a.cfg.Catalog, len(a.catalog.Entities))
	fmt.Printf("  tenants:   %s (%d tenants, %d channels)\n", a.cfg.Tenants, len(a.tenants.Tenants()), len(a.tenants.Recipients()))
	fmt.Printf("  data:      %s\n", a.cfg.DataDir)
	fmt.Printf("  interval:  every %d minutes\n", a.cfg.Scan.IntervalMinutes)
	fmt.Printf("  dedup:     %s, %s window\n", a.cfg.Dedup.Backend, a.cfg.Dedup.Window)
	fmt.Printf("  github:    %s\n", githubQuota(context.Background(), a.github))

	entities := a.entities()
	byCategory := make(map[watch.Category][]watch.TrackedEntity)
	for _, e := range entities {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	for _, c := range watch.Categories() {
		list := byCategory[c]
		if len(list) == 0 {
			continue
		}
		records, err := a.store.Load(c)
		if err != nil {
			output.Error.Printf("\n  %s: %v\n", c, err)
			continue
		}

		fmt.Println()
		output.Header.Printf("%s (%d)\n", c, len(list))
		for _, e := range list {
			rec, ok := records[e.ID]
			switch {
			case !ok || rec.Version == "":
				fmt.Printf("  %s %s\n", output.FormatEntity("", e.ID), output.Sprintf(output.Dim, "not yet resolved"))
			default:
				fmt.Printf("  %s %s %s\n", output.FormatEntity("", e.ID), rec.Version,
					output.Sprintf(output.Dim, "checked %s", formatAge(rec.LastChecked)))
			}
		}
	}

	stats := a.history.Stats()
	fmt.Println()
	output.Info.Printf("%d announcements recorded, %d deliveries, %d failed\n", stats.Total, stats.Delivered, stats.Failed)
}

// githubQuota reports the remaining core API quota, or why it is unknown
func githubQuota(ctx context.Context, client *github.Client) string {
	ctx, cancel := context.WithTimeout(ctx, quotaTimeout)
	defer cancel()

	remaining, reset, err := client.GetRateLimitInfo(ctx)
	if err != nil {
		return output.Sprintf(output.Dim, "quota unavailable: %v", err)
	}
	return fmt.Sprintf("%d requests left, resets %s", remaining, reset.Local().Format("15:04"))
}

// formatAge renders how long ago t was, coarsely
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
