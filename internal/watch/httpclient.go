package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/obentoo/switchdex/internal/common/github"
)

// Error variables for HTTP client errors
var (
	// ErrMaxRetriesExceeded is returned when all retry attempts have failed
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	// ErrRequestTimeout is returned when a request times out
	ErrRequestTimeout = errors.New("request timeout")
)

// BrowserUserAgent is sent to pages that reject non-browser clients
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// maxBodySize caps how much of a response is read
const maxBodySize = 8 << 20

// envVarPattern matches ${VAR_NAME} syntax for environment variable substitution
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// RetryConfig holds configuration for retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 2)
	MaxRetries int
	// BaseDelay is the initial delay before first retry (default: 1s)
	BaseDelay time.Duration
	// MaxDelay is the maximum delay between retries (default: 4s)
	MaxDelay time.Duration
	// Timeout is the deadline of one source call including retries (default: 15s)
	Timeout time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  1 * time.Second,
		MaxDelay:   4 * time.Second,
		Timeout:    15 * time.Second,
	}
}

// RetryableHTTPClient wraps an HTTP client with retry logic.
// Network errors and 5xx responses are retried with exponential backoff.
// Rate limits are returned immediately so callers can back off the source.
type RetryableHTTPClient struct {
	client *http.Client
	config RetryConfig
	// delayFunc allows overriding the delay function for testing
	delayFunc func(time.Duration)
	// defaultHeaders are headers applied to all requests
	defaultHeaders map[string]string
	// githubToken is the GitHub API token for authentication
	githubToken string
}

// NewRetryableHTTPClient creates a new HTTP client with the default retry configuration.
func NewRetryableHTTPClient() *RetryableHTTPClient {
	return NewRetryableHTTPClientWithConfig(DefaultRetryConfig())
}

// NewRetryableHTTPClientWithConfig creates a new HTTP client with custom retry configuration.
func NewRetryableHTTPClientWithConfig(config RetryConfig) *RetryableHTTPClient {
	return &RetryableHTTPClient{
		client:    &http.Client{},
		config:    config,
		delayFunc: time.Sleep,
		defaultHeaders: map[string]string{
			"User-Agent": BrowserUserAgent,
		},
	}
}

// SetHTTPClient sets a custom underlying HTTP client (useful for testing).
func (c *RetryableHTTPClient) SetHTTPClient(client *http.Client) {
	c.client = client
}

// SetDelayFunc sets a custom delay function (useful for testing).
func (c *RetryableHTTPClient) SetDelayFunc(fn func(time.Duration)) {
	c.delayFunc = fn
}

// Config returns the current retry configuration.
func (c *RetryableHTTPClient) Config() RetryConfig {
	return c.config
}

// SetGitHubToken sets the token sent to api.github.com.
func (c *RetryableHTTPClient) SetGitHubToken(token string) {
	c.githubToken = token
}

// SetDefaultHeaders merges headers into the defaults applied to every request.
func (c *RetryableHTTPClient) SetDefaultHeaders(headers map[string]string) {
	for k, v := range headers {
		c.defaultHeaders[k] = v
	}
}

// Do executes an HTTP request with retry logic.
// It satisfies github.Doer so the GitHub client shares retries and headers.
func (c *RetryableHTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	c.applyHeaders(req, nil)

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		// Check context cancellation before each attempt
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrRequestTimeout, ctx.Err())
		}

		if attempt > 0 {
			c.delayFunc(c.calculateDelay(attempt))
		}

		resp, err := c.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			if isTimeoutError(err) {
				lastErr = fmt.Errorf("%w: %v", ErrRequestTimeout, err)
			}
			continue
		}

		if c.shouldRetry(resp.StatusCode) && attempt < c.config.MaxRetries {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			continue
		}

		// Success, non-retryable status, or the final 5xx which the caller classifies
		return resp, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

// Fetch performs a GET and classifies the outcome for source adapters:
// 2xx returns the body, 404 is ErrNotApplicable, a rate-limit signal is
// ErrRateLimited, and anything else is ErrSourceUnavailable.
func (c *RetryableHTTPClient) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	c.applyHeaders(req, headers)

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if err := ClassifyResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrSourceUnavailable, err)
	}
	return body, nil
}

// ClassifyResponse maps a response status to the adapter error taxonomy.
func ClassifyResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotApplicable
	case github.IsRateLimited(resp):
		if wait := github.RetryAfter(resp, time.Now()); wait > 0 {
			return fmt.Errorf("%w: status %d, resets in %s", ErrRateLimited, resp.StatusCode, wait.Round(time.Second))
		}
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}
}

// calculateDelay calculates the delay for a given retry attempt.
// Uses exponential backoff: delay = baseDelay * 2^(attempt-1), capped at MaxDelay.
func (c *RetryableHTTPClient) calculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	multiplier := 1 << (attempt - 1)
	delay := c.config.BaseDelay * time.Duration(multiplier)

	if delay > c.config.MaxDelay {
		delay = c.config.MaxDelay
	}

	return delay
}

// shouldRetry reports whether a status is worth another attempt. Only 5xx qualifies.
func (c *RetryableHTTPClient) shouldRetry(statusCode int) bool {
	return statusCode >= 500 && statusCode < 600
}

// isTimeoutError checks if an error is a timeout error.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	type timeoutError interface {
		Timeout() bool
	}
	var te timeoutError
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}

// applyHeaders applies headers to a request in the following order:
// 1. Default headers, unless the request already carries them
// 2. GitHub token (if URL is GitHub API and token is configured)
// 3. Custom headers (passed to the method)
// All header values are processed for environment variable substitution.
func (c *RetryableHTTPClient) applyHeaders(req *http.Request, customHeaders map[string]string) {
	for key, value := range c.defaultHeaders {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, SubstituteEnvVars(value))
		}
	}

	if c.githubToken != "" && isGitHubAPIURL(req.URL.String()) && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.githubToken)
	}

	for key, value := range customHeaders {
		req.Header.Set(key, SubstituteEnvVars(value))
	}
}

// SubstituteEnvVars replaces ${VAR_NAME} patterns in a string with
// the corresponding environment variable values.
// If an environment variable is not set, the pattern is replaced with an empty string.
func SubstituteEnvVars(value string) string {
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// isGitHubAPIURL checks if a URL is a GitHub API URL.
func isGitHubAPIURL(url string) bool {
	return strings.HasPrefix(url, "https://api.github.com/") ||
		strings.HasPrefix(url, "http://api.github.com/")
}
