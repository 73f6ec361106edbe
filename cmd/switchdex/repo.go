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

var (
	// repoTenant is the tenant the command acts for
	repoTenant string
	// repoNoVerify skips the GitHub existence check on add
	repoNoVerify bool
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage repositories tracked by a tenant",
	Long: `Tenants can track their own GitHub repositories. Announcements for those
repositories reach only the tenant that added them.`,
}

var repoAddCmd = &cobra.Command{
	Use:   "add <owner/repo>",
	Short: "Track a GitHub repository",
	Long: `Track a GitHub repository for a tenant. The reference may be owner/repo or a
github.com URL. The repository is checked on GitHub first unless --no-verify is set.

Examples:
  switchdex repo add Atmosphere-NX/Atmosphere --tenant 123456789
  switchdex repo add https://github.com/owner/tool --tenant 123456789`,
	Args: cobra.ExactArgs(1),
	Run:  runRepoAdd,
}

var repoRemoveCmd = &cobra.Command{
	Use:   "remove <owner/repo>",
	Short: "Stop tracking a repository",
	Long:  `Stop tracking a repository. Only the tenant that added it may remove it.`,
	Args:  cobra.ExactArgs(1),
	Run:   runRepoRemove,
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked repositories",
	Run:   runRepoList,
}

func init() {
	repoCmd.PersistentFlags().StringVarP(&repoTenant, "tenant", "t", "", "Tenant (server) id")
	repoAddCmd.Flags().BoolVar(&repoNoVerify, "no-verify", false, "Do not check that the repository exists")

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoRemoveCmd)
	repoCmd.AddCommand(repoListCmd)
	rootCmd.AddCommand(repoCmd)
}

// openTenants loads the tenants file named in the config
func openTenants() (*watch.TenantDirectory, string) {
	cfg, _, err := loadConfig()
	if err != nil {
		logger.Error("loading config: %v", err)
		os.Exit(1)
	}
	dir, err := watch.LoadTenants(cfg.Tenants)
	if err != nil {
		logger.Error("loading tenants: %v", err)
		os.Exit(1)
	}
	return dir, cfg.GitHub.Token
}

func requireTenant() {
	if repoTenant == "" {
		logger.Error("--tenant is required")
		os.Exit(1)
	}
}

func runRepoAdd(cmd *cobra.Command, args []string) {
	requireTenant()
	dir, token := openTenants()

	repo, err := github.ParseRepo(args[0])
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	if !repoNoVerify {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		meta, err := github.NewClientWithOptions(token, nil).GetRepository(ctx, repo)
		if err != nil {
			logger.Error("cannot verify %s: %v", repo, err)
			os.Exit(1)
		}
		if meta.Archived {
			output.PrintWarning("%s is archived and may never publish a new release", meta.FullName)
		}
	}

	entity, err := dir.AddRepository(repoTenant, repo)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	if err := dir.Save(); err != nil {
		logger.Error("saving tenants: %v", err)
		os.Exit(1)
	}

	output.PrintSuccess("Tracking %s for %s (entity %s)", repo, repoTenant, entity.ID)
	output.PrintInfo("Its current release becomes the baseline on the next pass")
}

func runRepoRemove(cmd *cobra.Command, args []string) {
	requireTenant()
	dir, _ := openTenants()

	if err := dir.RemoveRepository(repoTenant, args[0]); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	if err := dir.Save(); err != nil {
		logger.Error("saving tenants: %v", err)
		os.Exit(1)
	}
	output.PrintSuccess("Stopped tracking %s for %s", args[0], repoTenant)
}

func runRepoList(cmd *cobra.Command, args []string) {
	dir, _ := openTenants()

	var shown int
	for _, t := range dir.Tenants() {
		if repoTenant != "" && t.ID != repoTenant {
			continue
		}
		if len(t.Repositories) == 0 {
			continue
		}
		label := t.ID
		if t.Name != "" {
			label = fmt.Sprintf("%s (%s)", t.Name, t.ID)
		}
		output.Header.Println(label)
		for _, r := range t.Repositories {
			fmt.Printf("  %s\n", output.FormatEntity("", r))
		}
		shown++
	}

	if shown == 0 {
		logger.Info("No repositories tracked")
	}
}
