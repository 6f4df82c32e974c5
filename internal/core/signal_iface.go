package core

import "encoding/json"

// Frame is a raw encoded relay message.
type Frame []byte

// Relay is the message-passing boundary to the relay service.
type Relay interface {
	Send(event string, payload any) error
	// On registers a handler; handlers of one event run in receive order.
	On(event string, handler func(json.RawMessage))
	IsConnected() bool
}

// SignalConnection abstracts a server-side client connection.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
