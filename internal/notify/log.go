package notify

import (
	"context"
	"strings"

	"github.com/obentoo/switchdex/internal/common/logger"
)

// LogSender writes announcements to the log instead of delivering them
type LogSender struct{}

// Send implements watch.Sender
func (LogSender) Send(ctx context.Context, channelID, content string) error {
	logger.Info("[%s] %s", channelID, strings.ReplaceAll(content, "\n", " | "))
	return nil
}

// Func adapts a function to watch.Sender
type Func func(ctx context.Context, channelID, content string) error

// Send implements watch.Sender
func (f Func) Send(ctx context.Context, channelID, content string) error {
	return f(ctx, channelID, content)
}
