package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/obentoo/switchdex/internal/common/config"
	"github.com/obentoo/switchdex/internal/common/logger"
	"github.com/obentoo/switchdex/internal/watch"
)

var (
	// watchSkipInitial waits for the first timer tick instead of scanning at startup
	watchSkipInitial bool
	// watchDryRun logs announcements instead of delivering them
	watchDryRun bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Scan on a recurring interval until interrupted",
	Long: `Run the update engine in the foreground. A pass runs at startup and then
every scan.interval_minutes. Send SIGHUP to reload the interval and the tenants
file without restarting.

Examples:
  switchdex watch                 Scan now and then every interval
  switchdex watch --skip-initial  Wait for the first interval
  switchdex watch --dry-run       Log announcements instead of sending them`,
	Run: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchSkipInitial, "skip-initial", false, "Do not scan at startup")
	watchCmd.Flags().BoolVar(&watchDryRun, "dry-run", false, "Log announcements instead of delivering them")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	if err := logger.Default().EnableFileLogging(); err != nil {
		logger.Warn("file logging disabled: %v", err)
	}
	defer logger.Default().Close()

	a, err := newApp(appOptions{dryRun: watchDryRun})
	if err != nil {
		logger.Error("failed to start: %v", err)
		os.Exit(1)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reload, stopReload := notifyReload()
	defer stopReload()

	var sched *watch.Scheduler
	sched, err = watch.NewScheduler(a.scanner, a.cfg.Scan.IntervalMinutes,
		watch.WithBaseContext(ctx),
		watch.WithPassLock(a.passLock),
		watch.WithPassHook(func(summary watch.PassSummary) {
			for _, line := range formatReliability(a.scanner.Reliability().Snapshot()) {
				logger.Debug("reliability %s", line)
			}
			logger.Info("next pass at %s", sched.Next().Format("15:04:05"))
		}),
	)
	if err != nil {
		logger.Error("failed to create scheduler: %v", err)
		os.Exit(1)
	}

	sched.Start()
	if !watchSkipInitial {
		if _, err := sched.RunNow(ctx); err != nil {
			logger.Warn("initial pass: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			sched.Stop()
			if last, ok := sched.LastPass(); ok {
				logger.Info("last pass: %s", passTotals(last))
			}
			return
		case <-reload:
			reloadWatch(a, sched)
		}
	}
}

// notifyReload subscribes to SIGHUP. Call it before the first pass, an
// unhandled SIGHUP terminates the process.
func notifyReload() (<-chan os.Signal, func()) {
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	return reload, func() { signal.Stop(reload) }
}

// reloadWatch applies a changed interval and tenants file to a running watcher
func reloadWatch(a *app, sched *watch.Scheduler) {
	cfg, err := config.LoadFrom(a.cfgPath)
	if err != nil {
		logger.Warn("reload: %v", err)
		return
	}
	if cfg.Scan.IntervalMinutes != sched.Interval() {
		if err := sched.SetInterval(cfg.Scan.IntervalMinutes); err != nil {
			logger.Warn("reload: %v", err)
		} else {
			logger.Info("interval changed to %d minutes", cfg.Scan.IntervalMinutes)
		}
	}

	if err := a.tenants.Reload(); err != nil {
		logger.Warn("reload tenants: %v", err)
		return
	}
	logger.Info("reloaded %d tenants", len(a.tenants.Tenants()))
}
