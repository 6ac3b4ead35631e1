// Package relay defines the messages and collaborator interfaces shared with the relay
// client and its packet decoder.
package relay

import (
	"fmt"

	evbus "github.com/asaskevich/EventBus"
)

// TopicDecoded is published by the decoder once per decoded packet
const TopicDecoded = "relay:packet:decoded"

// Message is a decoded packet, either BinaryMessage or TextMessage
type Message interface {
	Len() int
}

// BinaryMessage is an opaque wire packet: a JSON header optionally followed by raw tail bytes
type BinaryMessage struct {
	Data []byte
}

// Len returns the packet size in bytes
func (m BinaryMessage) Len() int { return len(m.Data) }

// TextMessage is a packet that arrived as text
type TextMessage struct {
	Data string
}

// Len returns the packet size in bytes
func (m TextMessage) Len() int { return len(m.Data) }

// Connector is the relay client side of discovery
type Connector interface {
	Connect(hostname string) error
}

// ConnectorFunc adapts a function to Connector
type ConnectorFunc func(hostname string) error

// Connect calls f(hostname)
func (f ConnectorFunc) Connect(hostname string) error { return f(hostname) }

// Handler receives decoded packets
type Handler func(msg Message)

// Bus carries decoded packets from the decoder to its listeners.
//
// Handlers are told apart by function identity, so a bus should carry one
// subscription per handler function (normally a single cache writer).
type Bus struct {
	bus evbus.Bus
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

// SubscribeDecoded registers h for every decoded packet. Handlers run synchronously on
// the publishing goroutine.
func (b *Bus) SubscribeDecoded(h Handler) error {
	if err := b.bus.Subscribe(TopicDecoded, h); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicDecoded, err)
	}
	return nil
}

// UnsubscribeDecoded removes a handler added with SubscribeDecoded
func (b *Bus) UnsubscribeDecoded(h Handler) error {
	if err := b.bus.Unsubscribe(TopicDecoded, h); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", TopicDecoded, err)
	}
	return nil
}

// PublishDecoded hands msg to every subscribed handler
func (b *Bus) PublishDecoded(msg Message) {
	b.bus.Publish(TopicDecoded, msg)
}

// HasSubscribers reports whether anyone listens for decoded packets
func (b *Bus) HasSubscribers() bool {
	return b.bus.HasCallback(TopicDecoded)
}
