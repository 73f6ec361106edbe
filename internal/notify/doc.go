// Package notify delivers announcement text to chat channels.
//
// Every sender implements watch.Sender: Send(ctx, channelID, content).
// DiscordSender posts through the Discord REST API, WebhookSender posts to
// per-channel webhook URLs, and LogSender only logs (dry runs and setups
// without credentials).
package notify
