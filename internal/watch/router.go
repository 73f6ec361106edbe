package watch

import (
	"context"
	"fmt"
	"strings"

	"github.com/obentoo/switchdex/internal/common/logger"
)

// Sender delivers a text message to one channel.
type Sender interface {
	Send(ctx context.Context, channelID, content string) error
}

// Audience answers who may receive announcements. *TenantDirectory satisfies it.
type Audience interface {
	Recipients() []RecipientChannel
	MentionRole(tenantID string, c Category) string
	IsBanned(tenantID string) bool
}

// EventLog records notification events. *History satisfies it.
type EventLog interface {
	Append(ev NotificationEvent) (NotificationEvent, error)
}

// Change describes a detected version change of one entity
type Change struct {
	Entity      TrackedEntity
	FromVersion string
	Result      ConsensusResult
}

// Router fans a change out to the channels allowed to see it.
type Router struct {
	audience Audience
	sender   Sender
	history  EventLog
}

// NewRouter creates a router. history may be nil.
func NewRouter(audience Audience, sender Sender, history EventLog) *Router {
	return &Router{audience: audience, sender: sender, history: history}
}

// Recipients returns the channels that receive announcements for entity.
// Owned entities reach only their owner's channels; global entities reach
// every channel subscribed to the entity's category. Banned tenants never match.
func (r *Router) Recipients(entity TrackedEntity) []RecipientChannel {
	seen := make(map[string]bool)
	var out []RecipientChannel

	for _, rc := range r.audience.Recipients() {
		if rc.TenantID != "" && r.audience.IsBanned(rc.TenantID) {
			continue
		}
		if entity.IsGlobal() {
			if !rc.Subscribes(entity.Category) {
				continue
			}
		} else if rc.TenantID != entity.Owner {
			continue
		}
		if seen[rc.ChannelID] {
			continue
		}
		seen[rc.ChannelID] = true
		out = append(out, rc)
	}
	return out
}

// Notify delivers the change to every recipient and records one history event.
// Failed deliveries are logged and counted; they never stop the fan-out.
// The returned error reports only a failure to record history.
func (r *Router) Notify(ctx context.Context, change Change) (NotificationEvent, error) {
	entity := change.Entity
	event := NotificationEvent{
		EntityID:    entity.ID,
		EntityName:  entity.Name,
		Category:    entity.Category,
		FromVersion: change.FromVersion,
		ToVersion:   change.Result.Version,
		Sources:     change.Result.Sources,
		Scope:       ScopeGlobal,
	}
	if !entity.IsGlobal() {
		event.Scope = entity.Owner
	}

	for _, rc := range r.Recipients(entity) {
		role := ""
		if rc.TenantID != "" {
			role = r.audience.MentionRole(rc.TenantID, entity.Category)
		}

		if err := r.send(ctx, rc.ChannelID, FormatMessage(change, role)); err != nil {
			logger.Warn("failed to notify channel %s about %s: %v", rc.ChannelID, entity.ID, err)
			event.Failed++
			continue
		}
		event.Delivered++
	}

	logger.Info("announced %s %s -> %s (%d delivered, %d failed)",
		entity.ID, change.FromVersion, change.Result.Version, event.Delivered, event.Failed)

	if r.history == nil {
		return event, nil
	}
	recorded, err := r.history.Append(event)
	if err != nil {
		return recorded, fmt.Errorf("failed to record history: %w", err)
	}
	return recorded, nil
}

// send isolates one channel's delivery, including a panicking transport
func (r *Router) send(ctx context.Context, channelID, content string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sender panic: %v", p)
		}
	}()
	return r.sender.Send(ctx, channelID, content)
}

// FormatMessage renders the announcement text. role, when set, is mentioned first.
func FormatMessage(change Change, role string) string {
	var b strings.Builder
	best := change.Result.Best

	if role != "" {
		fmt.Fprintf(&b, "<@&%s> ", role)
	}
	fmt.Fprintf(&b, "**%s** update: %s → %s\n", change.Entity.Name, change.FromVersion, change.Result.Version)
	if best.ReleaseDate != "" {
		fmt.Fprintf(&b, "Released: %s\n", best.ReleaseDate)
	}
	if len(change.Result.Sources) > 0 {
		fmt.Fprintf(&b, "Sources: %s\n", strings.Join(change.Result.Sources, ", "))
	}
	if best.Notes != "" {
		fmt.Fprintf(&b, "%s\n", best.Notes)
	}
	if best.URL != "" {
		fmt.Fprintf(&b, "<%s>\n", best.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
