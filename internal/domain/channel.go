package domain

import "context"

// Channel is a messaging transport that publishes new messages to the bus.
// Start blocks until ctx is cancelled or the transport fails.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
