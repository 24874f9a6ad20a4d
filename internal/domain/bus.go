package domain

// MessageBus carries notifications from a transport to the relay.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
