package watch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error variables for entity errors
var (
	// ErrUnknownCategory is returned when a category name is not part of the closed set
	ErrUnknownCategory = errors.New("unknown category")
	// ErrUnknownSourceKind is returned when a source kind is not recognized
	ErrUnknownSourceKind = errors.New("unknown source kind")
)

// Category groups tracked entities. The set is closed.
type Category string

// Category constants, declared in pass order
const (
	CategoryGame           Category = "game"
	CategoryApplication    Category = "application"
	CategoryFirmware       Category = "firmware"
	CategoryUserRepository Category = "user-repository"
)

// Categories returns all categories in the order a pass visits them.
func Categories() []Category {
	return []Category{CategoryGame, CategoryApplication, CategoryFirmware, CategoryUserRepository}
}

// Valid reports whether c belongs to the closed category set
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

var categoryAliases = map[string]Category{
	"games":             CategoryGame,
	"app":               CategoryApplication,
	"apps":              CategoryApplication,
	"applications":      CategoryApplication,
	"homebrew":          CategoryApplication,
	"repo":              CategoryUserRepository,
	"repos":             CategoryUserRepository,
	"repositories":      CategoryUserRepository,
	"user-repositories": CategoryUserRepository,
}

// ParseCategory converts a user-supplied name into a Category.
// Plural forms ("games", "applications") are accepted.
func ParseCategory(s string) (Category, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := categoryAliases[name]; ok {
		return alias, nil
	}

	c := Category(name)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// SourceKind describes where a source's answer comes from
type SourceKind string

// Source kind constants
const (
	KindOfficial       SourceKind = "official"
	KindCommunityWiki  SourceKind = "community-wiki"
	KindCommunityForum SourceKind = "community-forum"
	KindCodeHost       SourceKind = "code-host"
)

// Valid reports whether k is a known source kind
func (k SourceKind) Valid() bool {
	switch k {
	case KindOfficial, KindCommunityWiki, KindCommunityForum, KindCodeHost:
		return true
	}
	return false
}

// TrackedEntity is a monitored artifact.
type TrackedEntity struct {
	// ID is the stable identifier, unique within the catalog
	ID string
	// Category is the entity's group
	Category Category
	// Name is the human display name
	Name string
	// Owner is the tenant that added the entity; empty means globally visible
	Owner string
	// Sources lists the adapters applicable to this entity, in call order
	Sources []SourceConfig
}

// IsGlobal reports whether the entity is visible to every tenant
func (e TrackedEntity) IsGlobal() bool {
	return e.Owner == ""
}

// VersionCandidate is one source's answer for one entity during one pass.
// It is never persisted.
type VersionCandidate struct {
	Source      string
	Kind        SourceKind
	Priority    int     // lower is more authoritative
	Confidence  float64 // 0..1, intrinsic to the source
	Version     string  // empty means the source did not vote
	ReleaseDate string
	Notes       string
	URL         string
}

// Votes reports whether the candidate carries a version
func (c VersionCandidate) Votes() bool {
	return c.Version != ""
}

// ConsensusResult is the resolver's decision for one entity in one pass
type ConsensusResult struct {
	Version    string
	Confidence float64
	Sources    []string
	Best       VersionCandidate
}

// VersionRecord is the persisted last-known state of one entity.
type VersionRecord struct {
	Version     string    `json:"version"`
	ReleaseDate string    `json:"releaseDate,omitempty"`
	URL         string    `json:"url,omitempty"`
	LastChecked time.Time `json:"lastChecked"`
}

// NotificationEvent records one announced (or attempted) change.
type NotificationEvent struct {
	ID          string    `json:"id"`
	EntityID    string    `json:"entityId"`
	EntityName  string    `json:"entityName"`
	Category    Category  `json:"category"`
	FromVersion string    `json:"fromVersion"`
	ToVersion   string    `json:"toVersion"`
	Sources     []string  `json:"sources"`
	DetectedAt  time.Time `json:"detectedAt"`
	Scope       string    `json:"scope"` // "global" or a tenant id
	Delivered   int       `json:"delivered"`
	Failed      int       `json:"failed"`
}

// ScopeGlobal is the NotificationEvent scope of catalog entities
const ScopeGlobal = "global"

// RecipientChannel is a delivery target.
type RecipientChannel struct {
	ChannelID  string
	TenantID   string // empty for legacy channels
	Categories []Category
}

// Subscribes reports whether the channel wants announcements for c.
// Legacy channels without a subscription list receive every category.
func (r RecipientChannel) Subscribes(c Category) bool {
	if len(r.Categories) == 0 {
		return r.TenantID == ""
	}
	for _, sub := range r.Categories {
		if sub == c {
			return true
		}
	}
	return false
}
