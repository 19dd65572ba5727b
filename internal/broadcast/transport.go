// Package broadcast provides the publish/subscribe transports the session
// orchestrator signals over. Every transport fans a published message out to
// all current subscribers of the topic, possibly including the publisher.
package broadcast

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("broadcast transport closed")

// Transport is a topic-keyed broadcast channel. Messages from one publisher
// are delivered to each subscriber in publish order; nothing is promised
// across publishers.
type Transport interface {
	// Publish sends data to every current subscriber of topic.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe returns a stream of every message published on topic. The
	// channel is closed when ctx is done or the transport is closed.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)

	Close() error
}

// ChannelName is the redis channel backing a topic.
func ChannelName(topic string) string {
	return "meshcall:" + topic
}
