package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/obentoo/switchdex/internal/common/github"
	"github.com/obentoo/switchdex/internal/common/vercmp"
)

// Error variables for source adapter outcomes
var (
	// ErrNotApplicable is returned when the source has nothing for this entity (HTTP 404)
	ErrNotApplicable = errors.New("source not applicable")
	// ErrRateLimited is returned when the source asks us to back off
	ErrRateLimited = errors.New("source rate limited")
	// ErrSourceUnavailable is returned for network errors, timeouts and unexpected statuses
	ErrSourceUnavailable = errors.New("source unavailable")
)

// maxNotesLength caps release notes carried on a candidate
const maxNotesLength = 500

// Adapter fetches one source and turns its answer into a candidate.
// A failed fetch returns a non-voting candidate together with the error.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, entity TrackedEntity) (VersionCandidate, error)
}

// AdapterResolver builds the adapter for a source configuration
type AdapterResolver interface {
	Adapter(src SourceConfig) (Adapter, error)
}

// Sources builds adapters that share one HTTP client and one GitHub client.
type Sources struct {
	http    *RetryableHTTPClient
	github  *github.Client
	timeout time.Duration
}

// NewSources creates an adapter resolver. The GitHub client's transport is
// replaced by httpClient so both share retries and headers.
func NewSources(httpClient *RetryableHTTPClient, gh *github.Client) *Sources {
	gh.HTTPClient = httpClient
	timeout := httpClient.Config().Timeout
	if timeout <= 0 {
		timeout = DefaultRetryConfig().Timeout
	}
	return &Sources{http: httpClient, github: gh, timeout: timeout}
}

// Adapter implements AdapterResolver
func (s *Sources) Adapter(src SourceConfig) (Adapter, error) {
	src = src.withDefaults()
	if err := ValidateSource(&src); err != nil {
		return nil, err
	}

	base := adapterBase{src: src, timeout: s.timeout}
	switch src.Type {
	case SourceGitHubRelease:
		return &GitHubReleaseAdapter{adapterBase: base, client: s.github}, nil
	case SourceGitHubTag:
		return &GitHubTagAdapter{adapterBase: base, client: s.github}, nil
	case SourceJSON:
		parser := &JSONParser{Path: src.Path, DatePath: src.DatePath, URLPath: src.URLPath}
		return &HTTPAdapter{adapterBase: base, http: s.http, parser: parser}, nil
	case SourcePage:
		parser, err := NewHTMLParser(src.Selector, src.XPath, src.Patterns)
		if err != nil {
			return nil, err
		}
		return &HTTPAdapter{adapterBase: base, http: s.http, parser: parser}, nil
	default:
		return nil, fmt.Errorf("%w: got %q", ErrInvalidSourceType, src.Type)
	}
}

// adapterBase carries what every adapter shares
type adapterBase struct {
	src     SourceConfig
	timeout time.Duration
}

func (b adapterBase) Name() string {
	return b.src.Name
}

// candidate returns a non-voting candidate stamped with the source's identity
func (b adapterBase) candidate() VersionCandidate {
	return VersionCandidate{
		Source:     b.src.Name,
		Kind:       b.src.Kind,
		Priority:   b.src.Priority,
		Confidence: b.src.Confidence,
	}
}

// GitHubReleaseAdapter reads the latest published release of a repository.
type GitHubReleaseAdapter struct {
	adapterBase
	client *github.Client
}

// Fetch implements Adapter
func (a *GitHubReleaseAdapter) Fetch(ctx context.Context, entity TrackedEntity) (VersionCandidate, error) {
	cand := a.candidate()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	release, err := a.client.LatestRelease(ctx, a.src.Repo)
	if err != nil {
		return cand, fmt.Errorf("%s: %w", a.src.Name, mapGitHubError(err))
	}

	version := vercmp.Normalize(release.TagName)
	if !hasDigit(version) {
		// Tags like "latest" carry the version in the release title
		version, err = defaultExtractor.Extract(release.Name)
		if err != nil {
			return cand, fmt.Errorf("%s: %w: tag %q", a.src.Name, ErrNoVersionFound, release.TagName)
		}
	}

	cand.Version = version
	cand.ReleaseDate = FormatReleaseDate(release.PublishedAt)
	cand.URL = release.HTMLURL
	cand.Notes = truncate(strings.TrimSpace(release.Body), maxNotesLength)
	return cand, nil
}

// GitHubTagAdapter picks the highest version among a repository's tags.
type GitHubTagAdapter struct {
	adapterBase
	client *github.Client
}

// Fetch implements Adapter
func (a *GitHubTagAdapter) Fetch(ctx context.Context, entity TrackedEntity) (VersionCandidate, error) {
	cand := a.candidate()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	tags, err := a.client.Tags(ctx, a.src.Repo)
	if err != nil {
		return cand, fmt.Errorf("%s: %w", a.src.Name, mapGitHubError(err))
	}

	raw := make(map[string]string, len(tags))
	versions := make([]string, 0, len(tags))
	for _, tag := range tags {
		v := vercmp.Normalize(tag.Name)
		if !hasDigit(v) {
			continue
		}
		if _, seen := raw[v]; !seen {
			raw[v] = tag.Name
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return cand, fmt.Errorf("%s: %w: no versioned tags", a.src.Name, ErrNoVersionFound)
	}

	cand.Version = vercmp.Max(versions)
	cand.URL = fmt.Sprintf("https://github.com/%s/releases/tag/%s", a.src.Repo, raw[cand.Version])
	return cand, nil
}

// HTTPAdapter fetches a JSON endpoint or a web page and hands the body to its parser.
type HTTPAdapter struct {
	adapterBase
	http   *RetryableHTTPClient
	parser Parser
}

// Fetch implements Adapter
func (a *HTTPAdapter) Fetch(ctx context.Context, entity TrackedEntity) (VersionCandidate, error) {
	cand := a.candidate()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body, err := a.http.Fetch(ctx, a.src.URL, a.src.Headers)
	if err != nil {
		return cand, fmt.Errorf("%s: %w", a.src.Name, err)
	}

	parsed, err := a.parser.Parse(body)
	if err != nil {
		if errors.Is(err, ErrNoVersionFound) {
			return cand, fmt.Errorf("%s: %w", a.src.Name, err)
		}
		return cand, fmt.Errorf("%s: %w: %v", a.src.Name, ErrNoVersionFound, err)
	}

	cand.Version = parsed.Version
	cand.ReleaseDate = parsed.ReleaseDate
	cand.URL = parsed.URL
	if cand.URL == "" {
		cand.URL = a.src.URL
	}
	return cand, nil
}

// mapGitHubError converts GitHub client errors to the adapter taxonomy
func mapGitHubError(err error) error {
	switch {
	case errors.Is(err, github.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotApplicable, err)
	case errors.Is(err, github.ErrRateLimit):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	default:
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
}

// normalizeDate renders RFC 3339 timestamps as release dates and leaves other text alone
func normalizeDate(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return FormatReleaseDate(t)
	}
	return strings.TrimSpace(s)
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
