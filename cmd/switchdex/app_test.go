package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/obentoo/switchdex/internal/common/config"
	"github.com/obentoo/switchdex/internal/notify"
	"github.com/obentoo/switchdex/internal/watch"
)

const testCatalog = `
[atmosphere]
category = "firmware"
name = "Atmosphère"

[[atmosphere.sources]]
name = "github"
type = "github-release"
repo = "Atmosphere-NX/Atmosphere"

[zelda-totk]
category = "game"
name = "Zelda: Tears of the Kingdom"

[[zelda-totk.sources]]
name = "titledb"
type = "json"
url = "https://example.invalid/titledb.json"
path = "0100F2C0115B6000.version"
`

const testTenants = `
tenants:
  - id: "100"
    name: Homebrew Hub
    channels: ["200"]
    repositories: ["owner/tool"]
  - id: "300"
    banned: true
    repositories: ["owner/hidden"]
`

// setupAppConfig writes a config, catalog and tenants file and points --config at them
func setupAppConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))

	catalog := filepath.Join(dir, "catalog.toml")
	tenants := filepath.Join(dir, "tenants.yaml")
	if err := os.WriteFile(catalog, []byte(testCatalog), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tenants, []byte(testTenants), 0644); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "config.yaml")
	content := "data_dir: " + filepath.Join(dir, "state") + "\n" +
		"catalog: " + catalog + "\n" +
		"tenants: " + tenants + "\n" + extra
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })
	return dir
}

// TestNewAppEntities tests that catalog entities and tenant repositories are merged
func TestNewAppEntities(t *testing.T) {
	setupAppConfig(t, "")

	a, err := newApp(appOptions{dryRun: true})
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	if _, ok := a.sender.(notify.LogSender); !ok {
		t.Errorf("dry run should use the log sender, got %T", a.sender)
	}

	ids := make(map[string]watch.TrackedEntity)
	for _, e := range a.entities() {
		ids[e.ID] = e
	}

	for _, id := range []string{"atmosphere", "zelda-totk", watch.RepositoryEntityID("100", "owner/tool")} {
		if _, ok := ids[id]; !ok {
			t.Errorf("entity %s should be tracked, got %v", id, ids)
		}
	}
	if _, ok := ids[watch.RepositoryEntityID("300", "owner/hidden")]; ok {
		t.Error("repositories of banned tenants should not be tracked")
	}
	if e := ids[watch.RepositoryEntityID("100", "owner/tool")]; e.Owner != "100" {
		t.Errorf("tenant repository owner = %q, want 100", e.Owner)
	}
}

// TestNewAppMissingCatalog tests that a missing catalog leaves only tenant repositories
func TestNewAppMissingCatalog(t *testing.T) {
	dir := setupAppConfig(t, "")
	if err := os.Remove(filepath.Join(dir, "catalog.toml")); err != nil {
		t.Fatal(err)
	}

	a, err := newApp(appOptions{dryRun: true})
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	entities := a.entities()
	if len(entities) != 1 {
		t.Fatalf("expected only the tenant repository, got %d entities", len(entities))
	}
}

// TestNewAppInvalidConfig tests that out-of-range values are rejected
func TestNewAppInvalidConfig(t *testing.T) {
	setupAppConfig(t, "scan:\n  interval_minutes: 5000\n")

	if _, err := newApp(appOptions{dryRun: true}); err == nil {
		t.Error("expected an error for an interval above the maximum")
	}
}

// TestNewAppRedisFallback tests that an unreachable redis falls back to memory dedup
func TestNewAppRedisFallback(t *testing.T) {
	setupAppConfig(t, "dedup:\n  backend: redis\nredis:\n  addr: 127.0.0.1:1\n")

	a, err := newApp(appOptions{dryRun: true})
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	if a.redis != nil {
		t.Error("redis client should not be kept when the server is unreachable")
	}
}

// TestNewSender tests transport selection from the config
func TestNewSender(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"discord token", config.Config{Discord: config.DiscordConfig{Token: "abc"}}, "*notify.DiscordSender"},
		{"webhook url", config.Config{Webhook: config.WebhookConfig{URL: "https://hooks.example/1"}}, "*notify.WebhookSender"},
		{"webhook map", config.Config{Webhook: config.WebhookConfig{Channels: map[string]string{"1": "https://hooks.example/1"}}}, "*notify.WebhookSender"},
		{"nothing", config.Config{}, "notify.LogSender"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := newSender(&tt.cfg)
			if err != nil {
				t.Fatalf("newSender() error = %v", err)
			}
			var got string
			switch sender.(type) {
			case *notify.DiscordSender:
				got = "*notify.DiscordSender"
			case *notify.WebhookSender:
				got = "*notify.WebhookSender"
			case notify.LogSender:
				got = "notify.LogSender"
			}
			if got != tt.want {
				t.Errorf("newSender() = %T, want %s", sender, tt.want)
			}
		})
	}
}

// TestNewSenderWebhookFallback tests that the single webhook url serves unmapped channels
func TestNewSenderWebhookFallback(t *testing.T) {
	cfg := config.Config{Webhook: config.WebhookConfig{URL: "https://hooks.example/all"}}
	sender, err := newSender(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if w := sender.(*notify.WebhookSender); w.Fallback != "https://hooks.example/all" {
		t.Errorf("Fallback = %q", w.Fallback)
	}
}

// TestRunScanPassHonoursDataDirLock tests that a one-shot scan refuses to run
// while another process holds the data directory lock
func TestRunScanPassHonoursDataDirLock(t *testing.T) {
	dir := setupAppConfig(t, "")

	a, err := newApp(appOptions{dryRun: true})
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	watcher, err := watch.NewFileLock(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := watcher.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}

	if _, err := runScanPass(context.Background(), a, watch.CategoryApplication); !errors.Is(err, watch.ErrPassInProgress) {
		t.Fatalf("runScanPass() error = %v, want ErrPassInProgress", err)
	}

	if err := watcher.Unlock(); err != nil {
		t.Fatal(err)
	}
	if _, err := runScanPass(context.Background(), a, watch.CategoryApplication); err != nil {
		t.Errorf("runScanPass() after release error = %v", err)
	}

	// the scan released the lock when it finished
	if ok, err := watcher.TryLock(); err != nil || !ok {
		t.Errorf("lock should be free after the scan, got %v, %v", ok, err)
	}
	watcher.Unlock()
}
