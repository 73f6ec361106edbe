package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/obentoo/switchdex/internal/common/logger"
	"github.com/obentoo/switchdex/internal/common/output"
	"github.com/obentoo/switchdex/internal/watch"
)

var (
	// tenantName sets the display name when subscribing
	tenantName string
	// tenantCategories lists the categories a channel subscribes to
	tenantCategories []string
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage servers receiving announcements",
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants, their channels and subscriptions",
	Run:   runTenantList,
}

var tenantSubscribeCmd = &cobra.Command{
	Use:   "subscribe <tenant> <channel>",
	Short: "Announce to a channel",
	Long: `Add a channel to a tenant and set the categories it subscribes to.

Examples:
  switchdex tenant subscribe 123 456 --categories game,firmware
  switchdex tenant subscribe 123 456 --name "Homebrew Hub" --categories apps`,
	Args: cobra.ExactArgs(2),
	Run:  runTenantSubscribe,
}

var tenantBanCmd = &cobra.Command{
	Use:   "ban <tenant>",
	Short: "Stop all announcements to a tenant",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { setBanned(args[0], true) },
}

var tenantUnbanCmd = &cobra.Command{
	Use:   "unban <tenant>",
	Short: "Resume announcements to a tenant",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { setBanned(args[0], false) },
}

func init() {
	tenantSubscribeCmd.Flags().StringVar(&tenantName, "name", "", "Tenant display name")
	tenantSubscribeCmd.Flags().StringSliceVar(&tenantCategories, "categories", nil, "Categories to announce (default: all)")

	tenantCmd.AddCommand(tenantListCmd)
	tenantCmd.AddCommand(tenantSubscribeCmd)
	tenantCmd.AddCommand(tenantBanCmd)
	tenantCmd.AddCommand(tenantUnbanCmd)
	rootCmd.AddCommand(tenantCmd)
}

func runTenantList(cmd *cobra.Command, args []string) {
	dir, _ := openTenants()

	tenants := dir.Tenants()
	if len(tenants) == 0 {
		logger.Info("No tenants configured")
		return
	}

	for _, t := range tenants {
		label := t.ID
		if t.Name != "" {
			label = fmt.Sprintf("%s (%s)", t.Name, t.ID)
		}
		if t.Banned {
			label += output.Sprintf(output.Failed, " [banned]")
		}
		output.Header.Println(label)

		subs := "none"
		if len(t.Subscriptions) > 0 {
			names := make([]string, len(t.Subscriptions))
			for i, c := range t.Subscriptions {
				names[i] = string(c)
			}
			subs = strings.Join(names, ", ")
		}
		fmt.Printf("  channels:       %s\n", strings.Join(t.Channels, ", "))
		fmt.Printf("  subscriptions:  %s\n", subs)
		fmt.Printf("  repositories:   %d\n", len(t.Repositories))
	}
}

// parseCategories converts category names, defaulting to every category
func parseCategories(names []string) ([]watch.Category, error) {
	if len(names) == 0 {
		return watch.Categories(), nil
	}
	seen := make(map[watch.Category]bool)
	var out []watch.Category
	for _, name := range names {
		c, err := watch.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func runTenantSubscribe(cmd *cobra.Command, args []string) {
	tenantID, channelID := args[0], args[1]

	categories, err := parseCategories(tenantCategories)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	dir, _ := openTenants()
	t, _ := dir.Tenant(tenantID)
	t.ID = tenantID
	if tenantName != "" {
		t.Name = tenantName
	}
	if !containsString(t.Channels, channelID) {
		t.Channels = append(t.Channels, channelID)
	}
	t.Subscriptions = categories
	dir.Upsert(t)

	if err := dir.Save(); err != nil {
		logger.Error("saving tenants: %v", err)
		os.Exit(1)
	}
	output.PrintSuccess("Channel %s of %s subscribed to %d categories", channelID, tenantID, len(categories))
}

func setBanned(tenantID string, banned bool) {
	dir, _ := openTenants()
	t, ok := dir.Tenant(tenantID)
	if !ok {
		logger.Error("%v: %s", watch.ErrTenantNotFound, tenantID)
		os.Exit(1)
	}
	t.Banned = banned
	dir.Upsert(t)

	if err := dir.Save(); err != nil {
		logger.Error("saving tenants: %v", err)
		os.Exit(1)
	}
	if banned {
		output.PrintSuccess("%s banned", tenantID)
	} else {
		output.PrintSuccess("%s unbanned", tenantID)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
