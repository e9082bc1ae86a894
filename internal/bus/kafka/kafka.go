// Package kafka implements the bus contracts on top of Apache Kafka.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dvloznov/finance-doc-processor/internal/bus"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

// SubscriberConfig configures a consumer-group subscription.
type SubscriberConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	// MaxWait bounds how long a fetch waits for new data. Defaults to 1s.
	MaxWait time.Duration
}

// Subscriber reads a topic as part of a consumer group with synchronous,
// manual offset commits.
type Subscriber struct {
	reader *kafkago.Reader
	log    zerolog.Logger
}

// NewSubscriber creates a subscriber. Nothing is fetched until the first
// call to Fetch.
func NewSubscriber(cfg SubscriberConfig, log zerolog.Logger) (*Subscriber, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("NewSubscriber: at least one broker is required")
	}
	if cfg.GroupID == "" || cfg.Topic == "" {
		return nil, errors.New("NewSubscriber: group id and topic are required")
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
		MaxWait: cfg.MaxWait,
		// Zero commits synchronously on CommitMessages and never on a timer.
		CommitInterval: 0,
		StartOffset:    kafkago.FirstOffset,
	})

	return &Subscriber{
		reader: reader,
		log: log.With().
			Str("component", "kafka_subscriber").
			Str("topic", cfg.Topic).
			Str("group", cfg.GroupID).
			Logger(),
	}, nil
}

// Fetch implements bus.Subscriber.
func (s *Subscriber) Fetch(ctx context.Context) (bus.Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return bus.Message{}, bus.ErrClosed
		}
		return bus.Message{}, fmt.Errorf("Fetch: %w", err)
	}
	return fromKafka(m), nil
}

// Commit implements bus.Subscriber.
func (s *Subscriber) Commit(ctx context.Context, msg bus.Message) error {
	err := s.reader.CommitMessages(ctx, kafkago.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
	if err != nil {
		return fmt.Errorf("Commit: partition %d offset %d: %w", msg.Partition, msg.Offset, err)
	}
	return nil
}

// Close implements bus.Subscriber.
func (s *Subscriber) Close() error {
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	s.log.Info().Msg("Kafka subscriber closed")
	return nil
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Brokers []string
	// WriteTimeout defaults to 10s.
	WriteTimeout time.Duration
}

// Publisher writes keyed messages to any topic. Messages with the same key
// go to the same partition.
type Publisher struct {
	writer *kafkago.Writer
}

// NewPublisher creates a publisher waiting for all in-sync replicas to
// acknowledge each write.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("NewPublisher: at least one broker is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			WriteTimeout:           cfg.WriteTimeout,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Publish implements bus.Publisher. The writer does not report the
// partition or offset of a synchronous write, so both are -1 in the Ack.
func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) (bus.Ack, error) {
	msg := kafkago.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: toHeaders(headers),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return bus.Ack{}, fmt.Errorf("Publish(%s): %w", topic, bus.ErrClosed)
		}
		return bus.Ack{}, fmt.Errorf("Publish(%s): %w", topic, err)
	}
	return bus.Ack{Topic: topic, Partition: -1, Offset: -1}, nil
}

// Close implements bus.Publisher.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	return nil
}

func fromKafka(m kafkago.Message) bus.Message {
	var headers map[string]string
	if len(m.Headers) > 0 {
		headers = make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			headers[h.Key] = string(h.Value)
		}
	}
	return bus.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Time:      m.Time,
	}
}

func toHeaders(h map[string]string) []kafkago.Header {
	if len(h) == 0 {
		return nil
	}
	out := make([]kafkago.Header, 0, len(h))
	for k, v := range h {
		out = append(out, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return out
}

// Ensure Subscriber and Publisher implement the bus interfaces.
var _ bus.Subscriber = (*Subscriber)(nil)
var _ bus.Publisher = (*Publisher)(nil)
