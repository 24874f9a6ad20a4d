package domain

import (
	"context"
	"time"
)

// ForwardFunc resends the message it was issued with to another chat.
// Supplied by the transport that received the message.
type ForwardFunc func(ctx context.Context, toChatID int64) error

// InboundMessage is one new-message notification from a transport.
type InboundMessage struct {
	Channel   string // transport name
	ChatID    int64  // marked chat ID (-100... for channels and supergroups)
	MessageID int
	Text      string // message text or media caption; empty when there is none
	Timestamp time.Time
	Forward   ForwardFunc
}

// HasText reports whether the message carries any text to match against.
func (m InboundMessage) HasText() bool {
	return m.Text != ""
}
