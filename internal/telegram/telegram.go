// Package telegram is the message source: a long-polled Bot API client that
// streams channel posts into the pipeline and sends formatted messages back
// out to subscribers.
package telegram

import (
	"context"
	"time"
)

// Message is one inbound chat message, already flattened to the fields the
// pipeline cares about.
type Message struct {
	ChannelID int64
	MessageID int64
	Text      string
	Sender    string
	At        time.Time
}

// ChannelInfo describes one external channel.
type ChannelInfo struct {
	ID       int64
	Title    string
	Username string
	Kind     string
}

// Handler consumes one inbound message. Handlers run on short-lived
// goroutines; they must not block the listener loop.
type Handler func(ctx context.Context, msg Message)

// Source is the chat backend contract.
type Source interface {
	// Listen blocks, invoking h for every inbound channel message, until
	// the context is cancelled. It returns only after every handler it
	// dispatched has finished.
	Listen(ctx context.Context, h Handler) error
	SendMessage(ctx context.Context, to, text string) error
	ChannelInfo(ctx context.Context, channelID int64) (*ChannelInfo, error)
}
