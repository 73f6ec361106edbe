package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/obentoo/switchdex/internal/common/config"
	"github.com/obentoo/switchdex/internal/common/github"
	"github.com/obentoo/switchdex/internal/common/logger"
	"github.com/obentoo/switchdex/internal/notify"
	"github.com/obentoo/switchdex/internal/watch"
)

// redisPingTimeout bounds the startup connectivity check of the dedup backend
const redisPingTimeout = 3 * time.Second

// appOptions tweaks how the engine is assembled
type appOptions struct {
	// dryRun logs announcements instead of delivering them
	dryRun bool
}

// app holds the wired engine shared by all commands
type app struct {
	cfg       *config.Config
	cfgPath   string
	catalog   *watch.Catalog
	tenants   *watch.TenantDirectory
	store     *watch.Store
	history   *watch.History
	sender    watch.Sender
	router    *watch.Router
	escalator *watch.Escalator
	scanner   *watch.Scanner
	passLock  watch.PassLock
	github    *github.Client
	redis     *redis.Client
}

// loadConfig reads the file given by --config, or the first one found on the default paths
func loadConfig() (*config.Config, string, error) {
	path := cfgFile
	if path == "" {
		found, err := config.FindConfigPath()
		if err != nil {
			return nil, "", fmt.Errorf("failed to locate config: %w", err)
		}
		path = found
	}

	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newApp loads configuration and data files and wires the engine
func newApp(opts appOptions) (*app, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, cfgPath: path}

	a.catalog, err = watch.LoadCatalog(cfg.Catalog)
	switch {
	case errors.Is(err, watch.ErrCatalogNotFound):
		logger.Warn("no catalog at %s, tracking user repositories only", cfg.Catalog)
		a.catalog = &watch.Catalog{Entities: map[string]watch.EntityConfig{}}
	case err != nil:
		return nil, err
	}
	if err := a.catalog.ValidateAll(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", cfg.Catalog, err)
	}

	if a.tenants, err = watch.LoadTenants(cfg.Tenants); err != nil {
		return nil, err
	}
	if a.store, err = watch.NewStore(cfg.DataDir); err != nil {
		return nil, err
	}
	lock, err := watch.NewFileLock(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.passLock = lock
	if a.history, err = watch.NewHistory(cfg.DataDir, watch.WithHistoryCapacity(cfg.History.Capacity)); err != nil {
		return nil, err
	}

	if opts.dryRun {
		a.sender = notify.LogSender{}
	} else if a.sender, err = newSender(cfg); err != nil {
		return nil, err
	}

	httpClient := watch.NewRetryableHTTPClientWithConfig(watch.RetryConfig{
		MaxRetries: cfg.HTTP.MaxRetries,
		BaseDelay:  watch.DefaultRetryConfig().BaseDelay,
		MaxDelay:   watch.DefaultRetryConfig().MaxDelay,
		Timeout:    cfg.HTTP.Timeout,
	})
	if cfg.HTTP.UserAgent != "" {
		httpClient.SetDefaultHeaders(map[string]string{"User-Agent": cfg.HTTP.UserAgent})
	}
	if cfg.GitHub.Token != "" {
		httpClient.SetGitHubToken(cfg.GitHub.Token)
	}
	a.github = github.NewClientWithOptions(cfg.GitHub.Token, nil)
	sources := watch.NewSources(httpClient, a.github)

	reliability := watch.NewReliabilityRegistry()
	var resolverOpts []watch.ResolverOption
	if cfg.Reliability.Weighting {
		resolverOpts = append(resolverOpts, watch.WithReliability(reliability))
	}

	a.router = watch.NewRouter(a.tenants, a.sender, a.history)
	a.escalator = watch.NewEscalator(a.sender, cfg.Discord.LogChannel, watch.WithAlertCooldown(cfg.Alert.Cooldown))
	a.scanner = watch.NewScanner(
		watch.EntityFunc(a.entities),
		sources,
		a.store,
		a.router,
		watch.WithResolver(watch.NewResolver(resolverOpts...)),
		watch.WithReliabilityRegistry(reliability),
		watch.WithDedupGuard(a.newDedupGuard()),
		watch.WithAlerter(a.escalator),
		watch.WithPacingDelay(cfg.Scan.Delay),
	)

	return a, nil
}

// entities merges catalog entities with the repositories tenants track
func (a *app) entities() []watch.TrackedEntity {
	entities := append(a.catalog.TrackedEntities(), a.tenants.Entities()...)
	watch.SortEntities(entities)
	return entities
}

// newDedupGuard returns the configured dedup backend, falling back to memory
// when Redis is unreachable
func (a *app) newDedupGuard() watch.DedupGuard {
	window := a.cfg.Dedup.Window
	if a.cfg.Dedup.Backend != "redis" {
		return watch.NewMemoryDedupGuard(watch.WithDedupWindow(window))
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis at %s unreachable, using in-memory dedup: %v", a.cfg.Redis.Addr, err)
		client.Close()
		return watch.NewMemoryDedupGuard(watch.WithDedupWindow(window))
	}

	a.redis = client
	return watch.NewRedisDedupGuard(client, a.cfg.Redis.Prefix, window)
}

// newSender picks the delivery transport: Discord bot, webhooks, or the log
func newSender(cfg *config.Config) (watch.Sender, error) {
	switch {
	case cfg.Discord.Token != "":
		return notify.NewDiscordSender(cfg.Discord.Token)
	case cfg.Webhook.URL != "" || len(cfg.Webhook.Channels) > 0:
		sender := notify.NewWebhookSender(cfg.Webhook.Channels)
		sender.Fallback = cfg.Webhook.URL
		return sender, nil
	default:
		logger.Warn("no discord token or webhook configured, announcements are only logged")
		return notify.LogSender{}, nil
	}
}

// close releases connections held by the app
func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Debug("closing redis: %v", err)
		}
	}
}
