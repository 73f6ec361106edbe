package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig indicates a configuration value outside its allowed range
	ErrInvalidConfig = errors.New("invalid configuration")
)

// EnvPrefix is prepended to environment overrides, e.g. SWITCHDEX_DISCORD_TOKEN
const EnvPrefix = "SWITCHDEX"

// Interval bounds in minutes
const (
	MinIntervalMinutes     = 1
	MaxIntervalMinutes     = 1440
	DefaultIntervalMinutes = 30
)

// Config represents the application configuration
type Config struct {
	DataDir     string            `mapstructure:"data_dir" yaml:"data_dir"`
	Catalog     string            `mapstructure:"catalog" yaml:"catalog"`
	Tenants     string            `mapstructure:"tenants" yaml:"tenants"`
	Scan        ScanConfig        `mapstructure:"scan" yaml:"scan"`
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http"`
	GitHub      GitHubConfig      `mapstructure:"github" yaml:"github"`
	Discord     DiscordConfig     `mapstructure:"discord" yaml:"discord"`
	Webhook     WebhookConfig     `mapstructure:"webhook" yaml:"webhook"`
	Dedup       DedupConfig       `mapstructure:"dedup" yaml:"dedup"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	History     HistoryConfig     `mapstructure:"history" yaml:"history"`
	Alert       AlertConfig       `mapstructure:"alert" yaml:"alert"`
	Reliability ReliabilityConfig `mapstructure:"reliability" yaml:"reliability"`
}

// ScanConfig controls the periodic pass
type ScanConfig struct {
	IntervalMinutes int           `mapstructure:"interval_minutes" yaml:"interval_minutes"`
	Delay           time.Duration `mapstructure:"delay" yaml:"delay"` // pause between source requests
}

// HTTPConfig holds outbound request settings
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	UserAgent  string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// GitHubConfig holds GitHub API settings
type GitHubConfig struct {
	Token string `mapstructure:"token" yaml:"token"` // Personal access token for higher rate limits
}

// DiscordConfig holds bot delivery settings
type DiscordConfig struct {
	Token      string `mapstructure:"token" yaml:"token"`
	LogChannel string `mapstructure:"log_channel" yaml:"log_channel"` // operator alerts
}

// WebhookConfig enables delivery through incoming webhooks instead of a Discord bot.
// Channels maps channel ids to webhook URLs; URL serves channels without a mapping.
type WebhookConfig struct {
	URL      string            `mapstructure:"url" yaml:"url"`
	Channels map[string]string `mapstructure:"channels" yaml:"channels,omitempty"`
}

// DedupConfig controls duplicate alert suppression
type DedupConfig struct {
	Window  time.Duration `mapstructure:"window" yaml:"window"`
	Backend string        `mapstructure:"backend" yaml:"backend"` // "memory" or "redis"
}

// RedisConfig holds the shared dedup backend connection
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// HistoryConfig bounds the notification history
type HistoryConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// AlertConfig controls operator alert escalation
type AlertConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// ReliabilityConfig toggles reliability-weighted consensus
type ReliabilityConfig struct {
	Weighting bool `mapstructure:"weighting" yaml:"weighting"`
}

// ConfigPaths returns all possible config file paths in priority order
// 1. ~/.config/switchdex/config.yaml (XDG standard - priority)
// 2. ~/.switchdex/config.yaml (legacy fallback)
func ConfigPaths() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	// Check XDG_CONFIG_HOME first, fallback to ~/.config
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	return []string{
		filepath.Join(xdgConfig, "switchdex", "config.yaml"),
		filepath.Join(home, ".switchdex", "config.yaml"),
	}, nil
}

// DefaultConfigPath returns the default config file path (XDG standard)
func DefaultConfigPath() (string, error) {
	paths, err := ConfigPaths()
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// FindConfigPath returns the first existing config file path
// Returns the default path if no config file exists yet
func FindConfigPath() (string, error) {
	paths, err := ConfigPaths()
	if err != nil {
		return "", err
	}

	// Return first existing config file
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	// No config exists, return default (XDG) path for creation
	return paths[0], nil
}

// DefaultDataDir returns $XDG_DATA_HOME/switchdex, falling back to ~/.local/share/switchdex
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	xdgData := os.Getenv("XDG_DATA_HOME")
	if xdgData == "" {
		xdgData = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(xdgData, "switchdex"), nil
}

// Load reads configuration from the first available config file
// Priority: ~/.config/switchdex/config.yaml > ~/.switchdex/config.yaml
func Load() (*Config, error) {
	configPath, err := FindConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// newViper builds a viper instance with defaults, and SWITCHDEX_* overrides when env is set
func newViper(path string, env bool) (*viper.Viper, error) {
	dataDir, err := DefaultDataDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if env {
		v.AutomaticEnv()
	}

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("catalog", filepath.Join(filepath.Dir(path), "catalog.toml"))
	v.SetDefault("tenants", "")
	v.SetDefault("scan.interval_minutes", DefaultIntervalMinutes)
	v.SetDefault("scan.delay", "2s")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("github.token", "")
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.log_channel", "")
	v.SetDefault("webhook.url", "")
	v.SetDefault("dedup.window", "1h")
	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "switchdex:dedup:")
	v.SetDefault("history.capacity", 100)
	v.SetDefault("alert.cooldown", "30m")
	v.SetDefault("reliability.weighting", false)
	return v, nil
}

// LoadFrom reads configuration from a specific file path.
// A missing file is created with defaults; environment overrides are applied
// to the returned config but never written.
func LoadFrom(path string) (*Config, error) {
	v, err := newViper(path, true)
	if err != nil {
		return nil, err
	}

	create := false
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		create = true
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}

	if create {
		if err := writeDefaults(path); err != nil {
			return nil, err
		}
	}

	cfg.resolvePaths()
	return &cfg, nil
}

// writeDefaults creates the file at path holding only the built-in defaults
func writeDefaults(path string) error {
	v, err := newViper(path, false)
	if err != nil {
		return err
	}
	var defaults Config
	if err := v.Unmarshal(&defaults); err != nil {
		return err
	}
	return defaults.SaveTo(path)
}

// resolvePaths expands ~ and fills paths derived from DataDir
func (c *Config) resolvePaths() {
	c.DataDir = expandHome(c.DataDir)
	c.Catalog = expandHome(c.Catalog)
	if c.Tenants == "" {
		c.Tenants = filepath.Join(c.DataDir, "tenants.yaml")
	}
	c.Tenants = expandHome(c.Tenants)
}

// expandHome replaces a leading ~ with the user's home directory
func expandHome(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Scan.IntervalMinutes < MinIntervalMinutes || c.Scan.IntervalMinutes > MaxIntervalMinutes {
		return fmt.Errorf("%w: scan.interval_minutes must be between %d and %d, got %d",
			ErrInvalidConfig, MinIntervalMinutes, MaxIntervalMinutes, c.Scan.IntervalMinutes)
	}
	if c.Scan.Delay < 0 {
		return fmt.Errorf("%w: scan.delay must not be negative", ErrInvalidConfig)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("%w: http.timeout must be positive", ErrInvalidConfig)
	}
	if c.Dedup.Window <= 0 {
		return fmt.Errorf("%w: dedup.window must be positive", ErrInvalidConfig)
	}
	switch c.Dedup.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: dedup.backend must be memory or redis, got %q", ErrInvalidConfig, c.Dedup.Backend)
	}
	if c.History.Capacity <= 0 {
		return fmt.Errorf("%w: history.capacity must be positive", ErrInvalidConfig)
	}
	return nil
}

// SaveTo writes configuration to a specific file path
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// SetInterval stores scan.interval_minutes in the file at path. Every other
// key, comment and unexpanded path in the file is kept as written.
func SetInterval(path string, minutes int) error {
	if minutes < MinIntervalMinutes || minutes > MaxIntervalMinutes {
		return fmt.Errorf("%w: scan.interval_minutes must be between %d and %d, got %d",
			ErrInvalidConfig, MinIntervalMinutes, MaxIntervalMinutes, minutes)
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{newMapping()}}
	}

	root := doc.Content[0]
	if isNull(root) {
		*root = *newMapping()
	}
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: %s is not a mapping", ErrInvalidConfig, path)
	}

	scan := mappingValue(root, "scan")
	switch {
	case scan == nil:
		scan = newMapping()
		root.Content = append(root.Content, newScalar("!!str", "scan"), scan)
	case isNull(scan):
		*scan = *newMapping()
	case scan.Kind != yaml.MappingNode:
		return fmt.Errorf("%w: scan in %s is not a mapping", ErrInvalidConfig, path)
	}

	value := strconv.Itoa(minutes)
	if existing := mappingValue(scan, "interval_minutes"); existing != nil {
		existing.Kind = yaml.ScalarNode
		existing.Tag = "!!int"
		existing.Style = 0
		existing.Value = value
		existing.Content = nil
	} else {
		scan.Content = append(scan.Content, newScalar("!!str", "interval_minutes"), newScalar("!!int", value))
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode config %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return writeFile(path, buf.Bytes())
}

// mappingValue returns the value node stored under key, or nil
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func newMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func newScalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

// writeFile replaces path through a temporary file in the same directory
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
