// Package emitter publishes processing results to the message bus.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-doc-processor/internal/bus"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/rs/zerolog"
)

// ErrNoTopic is returned when Send has neither an explicit nor a default
// topic.
var ErrNoTopic = errors.New("no topic specified and no default topic configured")

// Emitter serializes values as JSON and publishes them, one message per
// call.
type Emitter struct {
	publisher    bus.Publisher
	defaultTopic string
	log          zerolog.Logger
}

// New creates an Emitter. defaultTopic may be empty, in which case every
// Send must name its topic.
func New(publisher bus.Publisher, defaultTopic string, log zerolog.Logger) *Emitter {
	return &Emitter{
		publisher:    publisher,
		defaultTopic: defaultTopic,
		log:          log.With().Str("component", "emitter").Logger(),
	}
}

// Send publishes value to topic, or to the default topic when topic is
// empty. key may be empty.
func (e *Emitter) Send(ctx context.Context, value any, key, topic string) (bus.Ack, error) {
	target := topic
	if target == "" {
		target = e.defaultTopic
	}
	if target == "" {
		return bus.Ack{}, fmt.Errorf("Send: %w", ErrNoTopic)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return bus.Ack{}, fmt.Errorf("Send: failed to encode message: %w", err)
	}

	var keyBytes []byte
	if key != "" {
		keyBytes = []byte(key)
	}

	ack, err := e.publisher.Publish(ctx, target, keyBytes, payload, nil)
	if err != nil {
		e.log.Error().Err(err).Str("topic", target).Str("key", key).Msg("Failed to publish message")
		return bus.Ack{}, fmt.Errorf("Send: %w", err)
	}

	e.log.Debug().
		Str("topic", ack.Topic).
		Int("partition", ack.Partition).
		Int64("offset", ack.Offset).
		Msg("Message published")
	return ack, nil
}

// SendResult publishes a result event keyed by its document id.
func (e *Emitter) SendResult(ctx context.Context, event domain.ResultEvent) (bus.Ack, error) {
	return e.Send(ctx, event, event.Key(), "")
}
