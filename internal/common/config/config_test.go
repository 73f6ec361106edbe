package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genValidPath generates valid absolute path strings
func genValidPath() gopter.Gen {
	return gen.RegexMatch(`^/[a-z][a-z0-9/]{0,20}$`)
}

// genToken generates token-like strings, possibly empty
func genToken() gopter.Gen {
	return gen.RegexMatch(`^[a-z]{0,12}$`)
}

// genDuration generates whole-second durations
func genDuration() gopter.Gen {
	return gen.IntRange(1, 86400).Map(func(s int) time.Duration {
		return time.Duration(s) * time.Second
	})
}

// genConfig generates valid Config structs
func genConfig() gopter.Gen {
	return gopter.CombineGens(
		genValidPath(),
		genValidPath(),
		genValidPath(),
		gen.IntRange(MinIntervalMinutes, MaxIntervalMinutes),
		genDuration(),
		genDuration(),
		genToken(),
		genToken(),
		gen.OneConstOf("memory", "redis"),
		gen.IntRange(1, 1000),
		gen.Bool(),
	).Map(func(values []interface{}) *Config {
		return &Config{
			DataDir: values[0].(string),
			Catalog: values[1].(string),
			Tenants: values[2].(string),
			Scan: ScanConfig{
				IntervalMinutes: values[3].(int),
				Delay:           values[4].(time.Duration),
			},
			HTTP: HTTPConfig{
				Timeout:    15 * time.Second,
				MaxRetries: 2,
			},
			GitHub:  GitHubConfig{Token: values[6].(string)},
			Discord: DiscordConfig{Token: values[7].(string), LogChannel: "123"},
			Dedup: DedupConfig{
				Window:  values[5].(time.Duration),
				Backend: values[8].(string),
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "switchdex:dedup:",
			},
			History:     HistoryConfig{Capacity: values[9].(int)},
			Alert:       AlertConfig{Cooldown: 30 * time.Minute},
			Reliability: ReliabilityConfig{Weighting: values[10].(bool)},
		}
	})
}

// TestConfigRoundTrip checks that SaveTo followed by LoadFrom preserves every field
func TestConfigRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("Config YAML round-trip preserves data", prop.ForAll(
		func(cfg *Config) bool {
			// Create temp directory for test
			tmpDir, err := os.MkdirTemp("", "config-test-*")
			if err != nil {
				t.Logf("Failed to create temp dir: %v", err)
				return false
			}
			defer os.RemoveAll(tmpDir)

			configPath := filepath.Join(tmpDir, "config.yaml")

			// Save config
			if err := cfg.SaveTo(configPath); err != nil {
				t.Logf("Failed to save config: %v", err)
				return false
			}

			// Load config back
			loaded, err := LoadFrom(configPath)
			if err != nil {
				t.Logf("Failed to load config: %v", err)
				return false
			}

			if !reflect.DeepEqual(cfg, loaded) {
				t.Logf("Mismatch:\n saved  %+v\n loaded %+v", cfg, loaded)
				return false
			}
			return true
		},
		genConfig(),
	))

	properties.TestingRun(t)
}

// TestMissingConfigFileCreatesDefault tests that missing config file creates default
func TestMissingConfigFileCreatesDefault(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))

	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	// Load from non-existent path should create default
	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Check default values
	if cfg.Scan.IntervalMinutes != 30 {
		t.Errorf("Expected interval 30, got: %d", cfg.Scan.IntervalMinutes)
	}
	if cfg.Scan.Delay != 2*time.Second {
		t.Errorf("Expected delay 2s, got: %v", cfg.Scan.Delay)
	}
	if cfg.HTTP.Timeout != 15*time.Second {
		t.Errorf("Expected timeout 15s, got: %v", cfg.HTTP.Timeout)
	}
	if cfg.Dedup.Window != time.Hour || cfg.Dedup.Backend != "memory" {
		t.Errorf("Unexpected dedup defaults: %+v", cfg.Dedup)
	}
	if cfg.History.Capacity != 100 {
		t.Errorf("Expected history capacity 100, got: %d", cfg.History.Capacity)
	}
	if cfg.Alert.Cooldown != 30*time.Minute {
		t.Errorf("Expected alert cooldown 30m, got: %v", cfg.Alert.Cooldown)
	}
	if cfg.Reliability.Weighting {
		t.Error("Reliability weighting should be disabled by default")
	}

	expectedData := filepath.Join(tmpDir, "data", "switchdex")
	if cfg.DataDir != expectedData {
		t.Errorf("Expected data dir %s, got: %s", expectedData, cfg.DataDir)
	}
	if cfg.Tenants != filepath.Join(expectedData, "tenants.yaml") {
		t.Errorf("Unexpected tenants path: %s", cfg.Tenants)
	}
	if cfg.Catalog != filepath.Join(tmpDir, "subdir", "catalog.toml") {
		t.Errorf("Unexpected catalog path: %s", cfg.Catalog)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Expected config file to be created")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

// TestEnvironmentOverrides tests that SWITCHDEX_* variables override the file
func TestEnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `scan:
  interval_minutes: 45
discord:
  token: from-file
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("SWITCHDEX_DISCORD_TOKEN", "from-env")
	t.Setenv("SWITCHDEX_DEDUP_BACKEND", "redis")

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Scan.IntervalMinutes != 45 {
		t.Errorf("Expected interval from file (45), got %d", cfg.Scan.IntervalMinutes)
	}
	if cfg.Discord.Token != "from-env" {
		t.Errorf("Expected env token, got %q", cfg.Discord.Token)
	}
	if cfg.Dedup.Backend != "redis" {
		t.Errorf("Expected env backend redis, got %q", cfg.Dedup.Backend)
	}
}

// TestDurationStrings tests that human-readable durations are accepted
func TestDurationStrings(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `scan:
  delay: 500ms
dedup:
  window: 2h
alert:
  cooldown: 5m
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Scan.Delay != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", cfg.Scan.Delay)
	}
	if cfg.Dedup.Window != 2*time.Hour {
		t.Errorf("Expected 2h, got %v", cfg.Dedup.Window)
	}
	if cfg.Alert.Cooldown != 5*time.Minute {
		t.Errorf("Expected 5m, got %v", cfg.Alert.Cooldown)
	}
}

// TestInvalidYAML tests that malformed files are reported
func TestInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("scan: [unterminated"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := LoadFrom(configPath); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Scan:    ScanConfig{IntervalMinutes: 30, Delay: 2 * time.Second},
			HTTP:    HTTPConfig{Timeout: 15 * time.Second},
			Dedup:   DedupConfig{Window: time.Hour, Backend: "memory"},
			History: HistoryConfig{Capacity: 100},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"interval zero", func(c *Config) { c.Scan.IntervalMinutes = 0 }, "scan.interval_minutes"},
		{"interval above a day", func(c *Config) { c.Scan.IntervalMinutes = 1441 }, "scan.interval_minutes"},
		{"negative delay", func(c *Config) { c.Scan.Delay = -time.Second }, "scan.delay"},
		{"zero timeout", func(c *Config) { c.HTTP.Timeout = 0 }, "http.timeout"},
		{"zero window", func(c *Config) { c.Dedup.Window = 0 }, "dedup.window"},
		{"unknown backend", func(c *Config) { c.Dedup.Backend = "memcached" }, "dedup.backend"},
		{"zero capacity", func(c *Config) { c.History.Capacity = 0 }, "history.capacity"},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Baseline config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Expected error to mention %s, got %v", tt.field, err)
			}
		})
	}
}

// TestConfigPathsPriority tests XDG path ordering
func TestConfigPathsPriority(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	paths, err := ConfigPaths()
	if err != nil {
		t.Fatalf("ConfigPaths failed: %v", err)
	}

	if len(paths) != 2 {
		t.Fatalf("Expected 2 paths, got %d", len(paths))
	}
	if paths[0] != filepath.Join(tmpDir, "switchdex", "config.yaml") {
		t.Errorf("Expected XDG path first, got %s", paths[0])
	}
	if !strings.HasSuffix(paths[1], filepath.Join(".switchdex", "config.yaml")) {
		t.Errorf("Expected legacy path second, got %s", paths[1])
	}
}

// TestFindConfigPathPrefersExisting tests that an existing legacy file is found
func TestFindConfigPathPrefersExisting(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "xdg"))

	legacy := filepath.Join(home, ".switchdex", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(legacy), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(legacy, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	path, err := FindConfigPath()
	if err != nil {
		t.Fatalf("FindConfigPath failed: %v", err)
	}
	if path != legacy {
		t.Errorf("Expected legacy path %s, got %s", legacy, path)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := expandHome("~/switchdex"); got != filepath.Join(home, "switchdex") {
		t.Errorf("Unexpected expansion: %s", got)
	}
	if got := expandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("Absolute paths must be unchanged, got %s", got)
	}
	if got := expandHome(""); got != "" {
		t.Errorf("Empty path must stay empty, got %s", got)
	}
}

// TestMissingConfigFileOmitsEnvironment tests that a created default file does
// not capture SWITCHDEX_* values
func TestMissingConfigFileOmitsEnvironment(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))
	t.Setenv("SWITCHDEX_DISCORD_TOKEN", "secret-from-env")
	t.Setenv("SWITCHDEX_REDIS_PASSWORD", "hunter2")

	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Discord.Token != "secret-from-env" {
		t.Errorf("env token should still apply, got %q", cfg.Discord.Token)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read created config: %v", err)
	}
	for _, secret := range []string{"secret-from-env", "hunter2"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("created config should not contain %q:\n%s", secret, data)
		}
	}
}

// TestSetIntervalKeepsFileContent tests that changing the interval rewrites only
// that key, leaving env values out and paths unexpanded
func TestSetIntervalKeepsFileContent(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `# switchdex settings
data_dir: ~/switchdex-data
catalog: ~/catalog.toml
scan:
  interval_minutes: 30
  delay: 5s
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("SWITCHDEX_DISCORD_TOKEN", "secret-from-env")
	t.Setenv("SWITCHDEX_GITHUB_TOKEN", "ghp_secret")

	if err := SetInterval(configPath, 45); err != nil {
		t.Fatalf("SetInterval failed: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	text := string(data)

	for _, secret := range []string{"secret-from-env", "ghp_secret", "discord", "github"} {
		if strings.Contains(text, secret) {
			t.Errorf("config should not gain %q:\n%s", secret, text)
		}
	}
	for _, want := range []string{"# switchdex settings", "data_dir: ~/switchdex-data", "catalog: ~/catalog.toml", "interval_minutes: 45", "delay: 5s"} {
		if !strings.Contains(text, want) {
			t.Errorf("config should contain %q:\n%s", want, text)
		}
	}

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Scan.IntervalMinutes != 45 {
		t.Errorf("Expected interval 45, got %d", cfg.Scan.IntervalMinutes)
	}
	if cfg.Scan.Delay != 5*time.Second {
		t.Errorf("Expected delay 5s, got %v", cfg.Scan.Delay)
	}
}

// TestSetIntervalAddsMissingKeys tests files without a scan section
func TestSetIntervalAddsMissingKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"no scan section", "dedup:\n  backend: memory\n"},
		{"empty scan section", "scan:\n"},
		{"scan without interval", "scan:\n  delay: 1s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			if err := SetInterval(configPath, 90); err != nil {
				t.Fatalf("SetInterval failed: %v", err)
			}

			cfg, err := LoadFrom(configPath)
			if err != nil {
				t.Fatalf("LoadFrom failed: %v", err)
			}
			if cfg.Scan.IntervalMinutes != 90 {
				t.Errorf("Expected interval 90, got %d", cfg.Scan.IntervalMinutes)
			}
		})
	}
}

// TestSetIntervalRejectsOutOfRange tests the interval bounds
func TestSetIntervalRejectsOutOfRange(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	for _, minutes := range []int{MinIntervalMinutes - 1, MaxIntervalMinutes + 1} {
		if err := SetInterval(configPath, minutes); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("SetInterval(%d) error = %v, want ErrInvalidConfig", minutes, err)
		}
	}
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		t.Error("rejected interval should not create the file")
	}
}
