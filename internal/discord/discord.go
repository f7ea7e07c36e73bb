package discord

import "context"

// Client is the subset of the Discord bot used to mirror committed transcript
// lines into a text channel.
type Client interface {
	Connect(ctx context.Context) error
	Close() error
	// ChannelName resolves a channel for log context; empty when unknown.
	ChannelName(channelID string) string
	SendChannelMessage(channelID, content string) error
}
