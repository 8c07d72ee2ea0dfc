// Package fabric is the node's event bus. A Transport moves opaque payloads
// between topic publishers and subscribers with at-most-once delivery; the
// Fabric wraps one with the event envelope and delivery statistics.
package fabric

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned by operations on a closed transport
var ErrTransportClosed = errors.New("transport closed")

// Handler receives the payload of a message published on a subscribed topic.
// Handlers run on a transport goroutine and must not block for long.
type Handler func(payload []byte)

// Transport is a topic-based publish/subscribe bus
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
	Unsubscribe(topic string) error
	Close() error
}
