package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Error variables for delivery errors
var (
	// ErrMissingToken is returned when a Discord sender is built without a bot token
	ErrMissingToken = errors.New("discord bot token is not configured")
	// ErrChannelUnavailable is returned when the channel is gone or the bot lost access to it
	ErrChannelUnavailable = errors.New("channel unavailable")
	// ErrUnknownChannel is returned when no webhook is configured for a channel
	ErrUnknownChannel = errors.New("no webhook configured for channel")
	// ErrDeliveryFailed is returned for any other rejected delivery
	ErrDeliveryFailed = errors.New("delivery failed")
)

// MaxMessageLength is Discord's limit on message content
const MaxMessageLength = 2000

// Session is the part of *discordgo.Session used to post messages
type Session interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSender posts messages through the Discord REST API.
// It does not open a gateway connection.
type DiscordSender struct {
	session Session
}

// NewDiscordSender creates a sender authenticated with a bot token
func NewDiscordSender(token string) (*DiscordSender, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.UserAgent = "switchdex/1.0"
	return &DiscordSender{session: session}, nil
}

// NewDiscordSenderWithSession creates a sender over an existing session
func NewDiscordSenderWithSession(session Session) *DiscordSender {
	return &DiscordSender{session: session}
}

// Send implements watch.Sender
func (d *DiscordSender) Send(ctx context.Context, channelID, content string) error {
	_, err := d.session.ChannelMessageSend(channelID, Truncate(content, MaxMessageLength), discordgo.WithContext(ctx))
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%w: %s: %v", ErrChannelUnavailable, channelID, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, channelID, err)
}

// Truncate shortens content to at most limit runes, marking the cut with an ellipsis
func Truncate(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}
