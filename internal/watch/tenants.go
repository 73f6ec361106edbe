package watch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/obentoo/switchdex/internal/common/github"
)

// Error variables for tenant directory errors
var (
	// ErrTenantNotFound is returned when a tenant id is unknown
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrNotOwner is returned when a tenant tries to remove another tenant's repository
	ErrNotOwner = errors.New("repository is owned by another tenant")
	// ErrRepositoryExists is returned when a tenant already tracks a repository
	ErrRepositoryExists = errors.New("repository already tracked")
	// ErrRepositoryNotFound is returned when no tenant tracks a repository
	ErrRepositoryNotFound = errors.New("repository not tracked")
	// ErrTenantsCorrupted is returned when the tenants file cannot be parsed
	ErrTenantsCorrupted = errors.New("tenants file is corrupted")
)

// Tenant is one community (a Discord server) receiving announcements.
type Tenant struct {
	ID            string              `yaml:"id"`
	Name          string              `yaml:"name,omitempty"`
	Banned        bool                `yaml:"banned,omitempty"`
	Channels      []string            `yaml:"channels,omitempty"`
	Subscriptions []Category          `yaml:"subscriptions,omitempty"`
	MentionRoles  map[Category]string `yaml:"mention_roles,omitempty"`
	Repositories  []string            `yaml:"repositories,omitempty"`
}

// tenantsFile is the on-disk shape of tenants.yaml
type tenantsFile struct {
	// Channels are legacy targets with no tenant; they receive every category
	Channels []string `yaml:"channels,omitempty"`
	Tenants  []Tenant `yaml:"tenants"`
}

// TenantDirectory holds tenants, their channels and the repositories they track.
// It is safe for concurrent use.
type TenantDirectory struct {
	path    string
	legacy  []string
	tenants []Tenant
	mu      sync.RWMutex
}

// LoadTenants reads the tenants file. A missing file yields an empty directory
// that Save will create.
func LoadTenants(path string) (*TenantDirectory, error) {
	d := &TenantDirectory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload replaces the directory's content with the file's. On error the
// current content is kept.
func (d *TenantDirectory) Reload() error {
	var tf tenantsFile

	data, err := os.ReadFile(d.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("failed to read tenants file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return fmt.Errorf("%w: %v", ErrTenantsCorrupted, err)
		}
	}

	d.mu.Lock()
	d.legacy = tf.Channels
	d.tenants = tf.Tenants
	d.mu.Unlock()
	return nil
}

// Path returns the file the directory is saved to
func (d *TenantDirectory) Path() string {
	return d.path
}

// Save writes the directory back to its file
func (d *TenantDirectory) Save() error {
	d.mu.RLock()
	tf := tenantsFile{Channels: d.legacy, Tenants: d.tenants}
	d.mu.RUnlock()

	data, err := yaml.Marshal(&tf)
	if err != nil {
		return fmt.Errorf("failed to marshal tenants: %w", err)
	}

	if dir := filepath.Dir(d.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create tenants directory: %w", err)
		}
	}

	tmpPath := d.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write tenants file: %w", err)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename tenants file: %w", err)
	}
	return nil
}

// Tenants returns a copy of all tenants
func (d *TenantDirectory) Tenants() []Tenant {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Tenant(nil), d.tenants...)
}

// Tenant returns the tenant with the given id
func (d *TenantDirectory) Tenant(id string) (Tenant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := d.indexUnsafe(id); i >= 0 {
		return d.tenants[i], true
	}
	return Tenant{}, false
}

// Upsert adds or replaces a tenant
func (d *TenantDirectory) Upsert(t Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := d.indexUnsafe(t.ID); i >= 0 {
		d.tenants[i] = t
		return
	}
	d.tenants = append(d.tenants, t)
}

// AddLegacyChannel registers a channel that receives every category
func (d *TenantDirectory) AddLegacyChannel(channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.legacy {
		if c == channelID {
			return
		}
	}
	d.legacy = append(d.legacy, channelID)
}

func (d *TenantDirectory) indexUnsafe(id string) int {
	for i := range d.tenants {
		if d.tenants[i].ID == id {
			return i
		}
	}
	return -1
}

// Recipients returns every delivery target. Banned tenants are left out.
func (d *TenantDirectory) Recipients() []RecipientChannel {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []RecipientChannel
	for _, ch := range d.legacy {
		out = append(out, RecipientChannel{ChannelID: ch})
	}
	for _, t := range d.tenants {
		if t.Banned {
			continue
		}
		for _, ch := range t.Channels {
			out = append(out, RecipientChannel{
				ChannelID:  ch,
				TenantID:   t.ID,
				Categories: append([]Category(nil), t.Subscriptions...),
			})
		}
	}
	return out
}

// MentionRole returns the role to mention in tenantID's channels for category c, if any
func (d *TenantDirectory) MentionRole(tenantID string, c Category) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := d.indexUnsafe(tenantID); i >= 0 {
		return d.tenants[i].MentionRoles[c]
	}
	return ""
}

// IsBanned reports whether tenantID is banned
func (d *TenantDirectory) IsBanned(tenantID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := d.indexUnsafe(tenantID); i >= 0 {
		return d.tenants[i].Banned
	}
	return false
}

// RepositoryEntityID is the entity id of a repository tracked by a tenant
func RepositoryEntityID(tenantID, repo string) string {
	return tenantID + ":" + strings.ToLower(repo)
}

// AddRepository makes tenantID track a GitHub repository given as owner/repo
// or URL. The tenant is created if unknown.
func (d *TenantDirectory) AddRepository(tenantID, ref string) (TrackedEntity, error) {
	repo, err := github.ParseRepo(ref)
	if err != nil {
		return TrackedEntity{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.indexUnsafe(tenantID)
	if i < 0 {
		d.tenants = append(d.tenants, Tenant{ID: tenantID})
		i = len(d.tenants) - 1
	}
	for _, existing := range d.tenants[i].Repositories {
		if strings.EqualFold(existing, repo) {
			return TrackedEntity{}, fmt.Errorf("%w: %s", ErrRepositoryExists, repo)
		}
	}
	d.tenants[i].Repositories = append(d.tenants[i].Repositories, repo)
	return repositoryEntity(tenantID, repo), nil
}

// RemoveRepository stops tenantID tracking a repository. Only the tenant that
// added it may remove it.
func (d *TenantDirectory) RemoveRepository(tenantID, ref string) error {
	repo, err := github.ParseRepo(ref)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if i := d.indexUnsafe(tenantID); i >= 0 {
		repos := d.tenants[i].Repositories
		for j, existing := range repos {
			if strings.EqualFold(existing, repo) {
				d.tenants[i].Repositories = append(repos[:j:j], repos[j+1:]...)
				return nil
			}
		}
	}

	for _, t := range d.tenants {
		for _, existing := range t.Repositories {
			if strings.EqualFold(existing, repo) {
				return fmt.Errorf("%w: %s", ErrNotOwner, repo)
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrRepositoryNotFound, repo)
}

// Entities returns the user-repository entities of all non-banned tenants, sorted by id.
func (d *TenantDirectory) Entities() []TrackedEntity {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []TrackedEntity
	for _, t := range d.tenants {
		if t.Banned {
			continue
		}
		for _, repo := range t.Repositories {
			out = append(out, repositoryEntity(t.ID, repo))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// repositoryEntity builds the entity for a tenant-owned repository.
// Releases are preferred; tags answer for repositories that never publish releases.
func repositoryEntity(tenantID, repo string) TrackedEntity {
	return TrackedEntity{
		ID:       RepositoryEntityID(tenantID, repo),
		Category: CategoryUserRepository,
		Name:     repo,
		Owner:    tenantID,
		Sources: []SourceConfig{
			{Name: "github-release", Type: SourceGitHubRelease, Kind: KindCodeHost, Repo: repo},
			{Name: "github-tag", Type: SourceGitHubTag, Kind: KindCodeHost, Repo: repo, Priority: 3, Confidence: 0.5},
		},
	}
}
