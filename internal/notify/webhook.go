package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// webhookRepeatWindow is how long an identical message to one URL is skipped
const webhookRepeatWindow = 10 * time.Minute

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookPayload is the body posted to a Discord-compatible webhook
type WebhookPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// WebhookSender posts messages to incoming webhooks. Channel ids are mapped
// to webhook URLs; a channel id that is itself an http(s) URL is used as is.
// Unmapped channels go to Fallback when it is set.
//
// Several channels can resolve to the same URL, Fallback in particular. An
// identical message is posted to a URL once within webhookRepeatWindow, so
// that URL sees each announcement once however many channels route to it.
type WebhookSender struct {
	HTTP     Doer
	Username string
	Fallback string
	webhooks map[string]string

	mu      sync.Mutex
	sent    map[string]time.Time
	nowFunc func() time.Time
}

// NewWebhookSender creates a sender for the given channel to URL mapping
func NewWebhookSender(webhooks map[string]string) *WebhookSender {
	m := make(map[string]string, len(webhooks))
	for k, v := range webhooks {
		m[k] = v
	}
	return &WebhookSender{
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		Username: "SwitchDex",
		webhooks: m,
		sent:     make(map[string]time.Time),
		nowFunc:  time.Now,
	}
}

// alreadySent reports whether content reached url within the repeat window
func (s *WebhookSender) alreadySent(url, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.sent[url+"\x00"+content]
	return ok && s.nowFunc().Sub(at) < webhookRepeatWindow
}

// markSent records a delivery and forgets expired ones
func (s *WebhookSender) markSent(url, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	for k, at := range s.sent {
		if now.Sub(at) >= webhookRepeatWindow {
			delete(s.sent, k)
		}
	}
	s.sent[url+"\x00"+content] = now
}

func (s *WebhookSender) resolve(channelID string) (string, bool) {
	if strings.HasPrefix(channelID, "https://") || strings.HasPrefix(channelID, "http://") {
		return channelID, true
	}
	if u, ok := s.webhooks[channelID]; ok {
		return u, true
	}
	return s.Fallback, s.Fallback != ""
}

// Send implements watch.Sender
func (s *WebhookSender) Send(ctx context.Context, channelID, content string) error {
	url, ok := s.resolve(channelID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	if s.alreadySent(url, content) {
		return nil
	}

	body, err := json.Marshal(WebhookPayload{Content: Truncate(content, MaxMessageLength), Username: s.Username})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, channelID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.markSent(url, content)
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s: webhook returned %d", ErrChannelUnavailable, channelID, resp.StatusCode)
	default:
		return fmt.Errorf("%w: %s: webhook returned %d", ErrDeliveryFailed, channelID, resp.StatusCode)
	}
}
