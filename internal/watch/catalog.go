package watch

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/BurntSushi/toml"
)

// Error variables for catalog errors
var (
	// ErrCatalogNotFound is returned when the catalog file does not exist
	ErrCatalogNotFound = errors.New("catalog file not found")
	// ErrInvalidSourceType is returned when a source has an unknown type
	ErrInvalidSourceType = errors.New("invalid source type: must be github-release, github-tag, json or page")
	// ErrMissingURL is returned when a json or page source has no url
	ErrMissingURL = errors.New("missing required field: url")
	// ErrMissingRepo is returned when a github source has no repo
	ErrMissingRepo = errors.New("missing required field: repo (owner/name)")
	// ErrMissingPath is returned when a json source has no version path
	ErrMissingPath = errors.New("missing required field: path (required for json source)")
	// ErrInvalidConfidence is returned when a confidence is outside 0..1
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")
	// ErrNoSources is returned when an entity has no sources configured
	ErrNoSources = errors.New("entity has no sources")
)

// SourceType selects the adapter implementation for a source
type SourceType string

// Source type constants
const (
	SourceGitHubRelease SourceType = "github-release"
	SourceGitHubTag     SourceType = "github-tag"
	SourceJSON          SourceType = "json"
	SourcePage          SourceType = "page"
)

// SourceConfig describes one place to look for an entity's version.
type SourceConfig struct {
	// Name identifies the source in logs, votes and reliability stats
	Name string `toml:"name"`
	// Type selects the adapter
	Type SourceType `toml:"type"`
	// Kind is the provenance of the answer
	Kind SourceKind `toml:"kind,omitempty"`
	// Priority breaks consensus ties; lower wins. Defaults by kind.
	Priority int `toml:"priority,omitempty"`
	// Confidence is the vote weight (0..1). Defaults by kind.
	Confidence float64 `toml:"confidence,omitempty"`
	// Repo is the owner/name pair for github sources
	Repo string `toml:"repo,omitempty"`
	// URL is the endpoint for json and page sources
	URL string `toml:"url,omitempty"`
	// Path is the JSON path to the version (json sources)
	Path string `toml:"path,omitempty"`
	// DatePath is the JSON path to the release date (json sources)
	DatePath string `toml:"date_path,omitempty"`
	// URLPath is the JSON path to a canonical link (json sources)
	URLPath string `toml:"url_path,omitempty"`
	// Selector narrows a page to the text of matching elements
	Selector string `toml:"selector,omitempty"`
	// XPath is an alternative to Selector
	XPath string `toml:"xpath,omitempty"`
	// Patterns override the default version patterns, most specific first
	Patterns []string `toml:"patterns,omitempty"`
	// Headers are sent with every request; values may reference ${ENV_VARS}
	Headers map[string]string `toml:"headers,omitempty"`
}

// kindDefaults holds priority and confidence used when a source leaves them unset
var kindDefaults = map[SourceKind]struct {
	priority   int
	confidence float64
}{
	KindOfficial:       {priority: 1, confidence: 0.9},
	KindCodeHost:       {priority: 2, confidence: 0.8},
	KindCommunityWiki:  {priority: 3, confidence: 0.6},
	KindCommunityForum: {priority: 4, confidence: 0.4},
}

// withDefaults fills unset fields from the source type and kind
func (s SourceConfig) withDefaults() SourceConfig {
	if s.Kind == "" {
		switch s.Type {
		case SourceGitHubRelease, SourceGitHubTag:
			s.Kind = KindCodeHost
		default:
			s.Kind = KindOfficial
		}
	}
	if s.Name == "" {
		s.Name = string(s.Type)
	}
	if d, ok := kindDefaults[s.Kind]; ok {
		if s.Priority == 0 {
			s.Priority = d.priority
		}
		if s.Confidence == 0 {
			s.Confidence = d.confidence
		}
	}
	return s
}

// EntityConfig is one entity as written in the catalog.
type EntityConfig struct {
	Category Category       `toml:"category"`
	Name     string         `toml:"name"`
	Sources  []SourceConfig `toml:"sources"`
}

// Catalog holds the built-in entities keyed by id.
type Catalog struct {
	Entities map[string]EntityConfig
}

// catalogFile is the on-disk shape: each [id] section is a top-level key
type catalogFile map[string]EntityConfig

// LoadCatalog loads and parses the catalog TOML file.
func LoadCatalog(path string) (*Catalog, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	return ParseCatalog(data)
}

// ParseCatalog parses catalog TOML content
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	catalog := &Catalog{Entities: make(map[string]EntityConfig, len(file))}
	for id, cfg := range file {
		for i := range cfg.Sources {
			cfg.Sources[i] = cfg.Sources[i].withDefaults()
		}
		if cfg.Name == "" {
			cfg.Name = id
		}
		catalog.Entities[id] = cfg
	}

	return catalog, nil
}

// ValidateSource checks a single source configuration.
func ValidateSource(src *SourceConfig) error {
	switch src.Type {
	case SourceGitHubRelease, SourceGitHubTag:
		if src.Repo == "" {
			return fmt.Errorf("source %s: %w", src.Name, ErrMissingRepo)
		}
	case SourceJSON:
		if src.URL == "" {
			return fmt.Errorf("source %s: %w", src.Name, ErrMissingURL)
		}
		if src.Path == "" {
			return fmt.Errorf("source %s: %w", src.Name, ErrMissingPath)
		}
	case SourcePage:
		if src.URL == "" {
			return fmt.Errorf("source %s: %w", src.Name, ErrMissingURL)
		}
	default:
		return fmt.Errorf("source %s: %w: got %q", src.Name, ErrInvalidSourceType, src.Type)
	}

	if !src.Kind.Valid() {
		return fmt.Errorf("source %s: %w: %q", src.Name, ErrUnknownSourceKind, src.Kind)
	}
	if src.Confidence < 0 || src.Confidence > 1 {
		return fmt.Errorf("source %s: %w: got %v", src.Name, ErrInvalidConfidence, src.Confidence)
	}

	for _, p := range src.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("source %s: %w: %v", src.Name, ErrInvalidRegexPattern, err)
		}
	}

	return nil
}

// ValidateEntity validates a single entity configuration.
func ValidateEntity(id string, cfg *EntityConfig) error {
	if !cfg.Category.Valid() {
		return fmt.Errorf("entity %s: %w: %q", id, ErrUnknownCategory, cfg.Category)
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("entity %s: %w", id, ErrNoSources)
	}
	for i := range cfg.Sources {
		if err := ValidateSource(&cfg.Sources[i]); err != nil {
			return fmt.Errorf("entity %s: %w", id, err)
		}
	}
	return nil
}

// ValidateAll validates every entity, in id order.
// Returns the first validation error encountered, or nil if all are valid.
func (c *Catalog) ValidateAll() error {
	ids := make([]string, 0, len(c.Entities))
	for id := range c.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cfg := c.Entities[id]
		if err := ValidateEntity(id, &cfg); err != nil {
			return err
		}
	}
	return nil
}

// TrackedEntities returns the catalog as global entities, sorted by category pass order then id.
func (c *Catalog) TrackedEntities() []TrackedEntity {
	entities := make([]TrackedEntity, 0, len(c.Entities))
	for id, cfg := range c.Entities {
		entities = append(entities, TrackedEntity{
			ID:       id,
			Category: cfg.Category,
			Name:     cfg.Name,
			Sources:  cfg.Sources,
		})
	}
	SortEntities(entities)
	return entities
}

// SortEntities orders entities by category pass order, then id
func SortEntities(entities []TrackedEntity) {
	rank := make(map[Category]int)
	for i, c := range Categories() {
		rank[c] = i
	}
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Category != entities[j].Category {
			return rank[entities[i].Category] < rank[entities[j].Category]
		}
		return entities[i].ID < entities[j].ID
	})
}
