package watch

import (
	"context"
	"sync"
	"time"

	"github.com/obentoo/switchdex/internal/common/logger"
)

// DefaultAlertCooldown is the minimum gap between two alerts with the same signature
const DefaultAlertCooldown = 30 * time.Minute

// Escalator forwards operator alerts to a log channel, at most once per
// signature per cooldown.
type Escalator struct {
	sender   Sender
	channel  string
	cooldown time.Duration
	last     map[string]time.Time
	mu       sync.Mutex
	nowFunc  func() time.Time
}

// AlertOption is a functional option for configuring Escalator
type AlertOption func(*Escalator)

// WithAlertCooldown sets the per-signature cooldown
func WithAlertCooldown(d time.Duration) AlertOption {
	return func(e *Escalator) {
		e.cooldown = d
	}
}

// WithAlertNowFunc sets a custom time function for testing
func WithAlertNowFunc(fn func() time.Time) AlertOption {
	return func(e *Escalator) {
		e.nowFunc = fn
	}
}

// NewEscalator creates an escalator. With no sender or channel, alerts are only logged.
func NewEscalator(sender Sender, channelID string, opts ...AlertOption) *Escalator {
	e := &Escalator{
		sender:   sender,
		channel:  channelID,
		cooldown: DefaultAlertCooldown,
		last:     make(map[string]time.Time),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Escalate sends message unless signature was escalated within the cooldown.
// It reports whether the alert went out.
func (e *Escalator) Escalate(ctx context.Context, signature, message string) bool {
	e.mu.Lock()
	now := e.nowFunc()
	if at, ok := e.last[signature]; ok && now.Sub(at) < e.cooldown {
		e.mu.Unlock()
		logger.Debug("alert %s suppressed (cooldown)", signature)
		return false
	}
	e.last[signature] = now
	e.mu.Unlock()

	logger.Error("%s", message)
	if e.sender == nil || e.channel == "" {
		return false
	}
	if err := e.sender.Send(ctx, e.channel, message); err != nil {
		logger.Warn("failed to deliver alert %s: %v", signature, err)
		return false
	}
	return true
}
