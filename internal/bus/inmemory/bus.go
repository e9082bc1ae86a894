// Package inmemory provides a process-local message bus. It is safe for
// concurrent use. Committed offsets are kept per consumer group on the Bus,
// so a subscriber created after a consumer restart resumes at the first
// uncommitted message. Nothing survives the process.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-doc-processor/internal/bus"
)

// Bus keeps every published message in an append-only log per topic.
// Each topic has a single partition (0); offsets are log positions.
type Bus struct {
	mu     sync.Mutex
	topics map[string][]bus.Message
	// committed holds the next offset to deliver per consumer group.
	committed map[groupTopic]int64
	// notify is closed and replaced on every publish to wake fetchers.
	notify chan struct{}
	closed bool
}

type groupTopic struct {
	group string
	topic string
}

// NewBus creates an empty in-memory bus.
func NewBus() *Bus {
	return &Bus{
		topics:    make(map[string][]bus.Message),
		committed: make(map[groupTopic]int64),
		notify:    make(chan struct{}),
	}
}

// Publish implements bus.Publisher.
func (b *Bus) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) (bus.Ack, error) {
	if err := ctx.Err(); err != nil {
		return bus.Ack{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return bus.Ack{}, fmt.Errorf("Publish(%s): %w", topic, bus.ErrClosed)
	}

	msg := bus.Message{
		Topic:     topic,
		Partition: 0,
		Offset:    int64(len(b.topics[topic])),
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
		Headers:   copyHeaders(headers),
		Time:      time.Now().UTC(),
	}
	b.topics[topic] = append(b.topics[topic], msg)

	close(b.notify)
	b.notify = make(chan struct{})

	return bus.Ack{Topic: topic, Partition: msg.Partition, Offset: msg.Offset}, nil
}

// Messages returns a copy of everything published to topic.
func (b *Bus) Messages(topic string) []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bus.Message(nil), b.topics[topic]...)
}

// Subscribe reads topic as a member of group, starting at the group's
// first uncommitted offset. Messages fetched but not committed by an
// earlier subscriber of the group are delivered again.
func (b *Bus) Subscribe(group, topic string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := groupTopic{group: group, topic: topic}
	return &Subscriber{bus: b, key: key, next: b.committed[key]}
}

// Committed returns the next offset group will receive from topic.
func (b *Bus) Committed(group, topic string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed[groupTopic{group: group, topic: topic}]
}

// Close wakes all fetchers and rejects further publishes. It is
// idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.notify)
	return nil
}

// Subscriber reads one topic of a Bus for a consumer group. It is meant to
// be used by a single goroutine, except for Committed which may be called
// from anywhere.
type Subscriber struct {
	bus  *Bus
	key  groupTopic
	next int64

	mu      sync.Mutex
	commits int
}

// Fetch implements bus.Subscriber.
func (s *Subscriber) Fetch(ctx context.Context) (bus.Message, error) {
	for {
		s.bus.mu.Lock()
		if s.bus.closed {
			s.bus.mu.Unlock()
			return bus.Message{}, bus.ErrClosed
		}
		log := s.bus.topics[s.key.topic]
		if s.next < int64(len(log)) {
			msg := log[s.next]
			s.next++
			s.bus.mu.Unlock()
			return msg, nil
		}
		wait := s.bus.notify
		s.bus.mu.Unlock()

		select {
		case <-ctx.Done():
			return bus.Message{}, ctx.Err()
		case <-wait:
		}
	}
}

// Commit implements bus.Subscriber.
func (s *Subscriber) Commit(_ context.Context, msg bus.Message) error {
	if msg.Topic != s.key.topic {
		return fmt.Errorf("Commit: message from topic %q on subscription to %q", msg.Topic, s.key.topic)
	}

	s.bus.mu.Lock()
	if msg.Offset+1 > s.bus.committed[s.key] {
		s.bus.committed[s.key] = msg.Offset + 1
	}
	s.bus.mu.Unlock()

	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

// Committed returns the group's next offset to be consumed after a restart
// and the number of commits made through this subscriber.
func (s *Subscriber) Committed() (offset int64, commits int) {
	offset = s.bus.Committed(s.key.group, s.key.topic)
	s.mu.Lock()
	defer s.mu.Unlock()
	return offset, s.commits
}

// Close implements bus.Subscriber. The Bus itself stays open.
func (s *Subscriber) Close() error {
	return nil
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Ensure Bus and Subscriber implement the bus interfaces.
var _ bus.Publisher = (*Bus)(nil)
var _ bus.Subscriber = (*Subscriber)(nil)
