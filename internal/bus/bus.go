// Package bus defines the message bus contracts shared by the ingestion
// loop and the result emitter.
package bus

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("bus is closed")

// Message is a record read from or written to a topic.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// Ack identifies where a published message landed. Transports that do not
// report placement leave Partition and Offset at -1.
type Ack struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
}

// Subscriber reads one topic as part of a consumer group. Offsets are
// committed explicitly, never automatically.
type Subscriber interface {
	// Fetch blocks until the next message is available or ctx is done.
	Fetch(ctx context.Context) (Message, error)

	// Commit marks msg, and everything before it on its partition, as
	// consumed.
	Commit(ctx context.Context, msg Message) error

	// Close releases the subscription.
	Close() error
}

// Publisher writes messages to topics.
type Publisher interface {
	// Publish writes a single message and waits for the broker to accept it.
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) (Ack, error)

	// Close flushes and releases the publisher.
	Close() error
}
