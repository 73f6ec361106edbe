package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrRateLimit indicates GitHub API rate limit exceeded
	ErrRateLimit = errors.New("GitHub API rate limit exceeded")
	// ErrNotFound indicates the requested repository or release was not found
	ErrNotFound = errors.New("repository or release not found")
	// ErrAPIError indicates a general GitHub API error
	ErrAPIError = errors.New("GitHub API error")
	// ErrInvalidRepo indicates a malformed owner/repo reference
	ErrInvalidRepo = errors.New("invalid repository reference: expected owner/repo")
)

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client handles communication with the GitHub REST API
type Client struct {
	BaseURL    string
	UserAgent  string
	Token      string // GitHub personal access token (optional, increases rate limit)
	HTTPClient Doer
}

// Release represents a GitHub release
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	HTMLURL     string    `json:"html_url"`
	Body        string    `json:"body"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
}

// Tag represents a GitHub tag
type Tag struct {
	Name string `json:"name"`
}

// Repository is the subset of repository metadata we care about
type Repository struct {
	FullName    string `json:"full_name"`
	HTMLURL     string `json:"html_url"`
	Description string `json:"description"`
	Archived    bool   `json:"archived"`
}

// NewClient creates a new GitHub API client
func NewClient() *Client {
	return &Client{
		BaseURL:   "https://api.github.com",
		UserAgent: "switchdex/1.0",
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// NewClientWithOptions creates a new GitHub API client with a token and custom transport
func NewClientWithOptions(token string, doer Doer) *Client {
	client := NewClient()
	client.Token = token
	if doer != nil {
		client.HTTPClient = doer
	}
	return client
}

// repoRegex matches owner/repo, optionally as a github.com URL
var repoRegex = regexp.MustCompile(`^(?:https?://github\.com/)?([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+?)(?:\.git)?/?$`)

// ParseRepo normalizes "owner/repo" or a github.com URL into "owner/repo".
func ParseRepo(ref string) (string, error) {
	m := repoRegex.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRepo, ref)
	}
	return m[1] + "/" + m[2], nil
}

// LatestRelease fetches the latest published (non-draft, non-prerelease) release
func (c *Client) LatestRelease(ctx context.Context, repo string) (*Release, error) {
	var release Release
	if err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/releases/latest", repo), &release); err != nil {
		return nil, err
	}
	if release.Draft {
		return nil, fmt.Errorf("%w: latest release of %s is a draft", ErrNotFound, repo)
	}
	return &release, nil
}

// Tags fetches the most recent tags of a repository
func (c *Client) Tags(ctx context.Context, repo string) ([]Tag, error) {
	var tags []Tag
	if err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/tags?per_page=100", repo), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// GetRepository fetches repository metadata, used to validate user-added repositories
func (c *Client) GetRepository(ctx context.Context, repo string) (*Repository, error) {
	var r Repository
	if err := c.getJSON(ctx, "/repos/"+repo, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// getJSON performs a GET against the API and decodes the JSON body into out
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}

	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")

	// Add authorization header if token is set
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse GitHub response: %w", err)
	}
	return nil
}

// CheckResponse maps GitHub status codes to sentinel errors.
// 403 is only a rate limit when the API says so; other 403s are plain API errors.
func CheckResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case IsRateLimited(resp):
		if wait := RetryAfter(resp, time.Now()); wait > 0 {
			return fmt.Errorf("%w: resets in %s", ErrRateLimit, wait.Round(time.Second))
		}
		return ErrRateLimit
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrAPIError, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// IsRateLimited reports whether a response carries a rate-limit signal
func IsRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if resp.StatusCode != http.StatusForbidden {
		return false
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		return true
	}
	return resp.Header.Get("Retry-After") != ""
}

// GetRateLimitInfo returns current rate limit status
func (c *Client) GetRateLimitInfo(ctx context.Context) (remaining int, resetTime time.Time, err error) {
	var result struct {
		Resources struct {
			Core struct {
				Remaining int   `json:"remaining"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}

	if err := c.getJSON(ctx, "/rate_limit", &result); err != nil {
		return 0, time.Time{}, err
	}

	resetTime = time.Unix(result.Resources.Core.Reset, 0)
	return result.Resources.Core.Remaining, resetTime, nil
}

// RetryAfter extracts the reset delay advertised by a rate-limited response.
// Returns zero when the response does not advertise one.
func RetryAfter(resp *http.Response, now time.Time) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	if s := resp.Header.Get("X-RateLimit-Reset"); s != "" {
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}
