// Package ingest runs the loop that reads documents from the message bus
// and hands them to the document handler.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-doc-processor/internal/bus"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/rs/zerolog"
)

// Handler processes one document. A returned error is logged; the message
// is committed either way.
type Handler func(ctx context.Context, doc domain.Document) error

// Config holds the optional dead-letter routing of malformed messages.
// With an empty DeadLetterTopic malformed messages are only logged.
type Config struct {
	DeadLetterTopic string
	DeadLetter      bus.Publisher
}

// Consumer reads messages one at a time and commits each offset after the
// handler returns, giving at-least-once delivery.
type Consumer struct {
	sub     bus.Subscriber
	handler Handler
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewConsumer creates a stopped consumer.
func NewConsumer(sub bus.Subscriber, handler Handler, cfg Config, log zerolog.Logger) *Consumer {
	return &Consumer{
		sub:     sub,
		handler: handler,
		cfg:     cfg,
		log:     log.With().Str("component", "ingest").Logger(),
		now:     time.Now,
	}
}

// Start launches the consume loop in the background. Calling Start on a
// running consumer does nothing.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.log.Warn().Msg("Consumer already running")
		return nil
	}
	if c.handler == nil {
		return errors.New("Start: no message handler configured")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.err = nil

	go c.run(loopCtx, c.done)

	c.log.Info().Msg("Consumer started")
	return nil
}

// Stop cancels the loop and waits for the message in flight to finish, or
// for ctx to expire. Stopping a stopped consumer does nothing.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
		c.log.Info().Msg("Consumer stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("Stop: %w", ctx.Err())
	}
}

// Running reports whether the loop is active.
func (c *Consumer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Done is closed when the loop exits, whether stopped or failed. It is nil
// before the first Start.
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the error that ended the loop, or nil after a clean stop.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Consumer) run(ctx context.Context, done chan struct{}) {
	var loopErr error
	defer func() {
		c.mu.Lock()
		c.running = false
		c.err = loopErr
		c.cancel()
		c.mu.Unlock()
		close(done)
	}()

	for {
		msg, err := c.sub.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			loopErr = fmt.Errorf("consume loop: %w", err)
			c.log.Error().Err(err).Msg("Consume loop stopped")
			return
		}

		// Stop does not interrupt a message in flight: it is handled and
		// committed before the loop exits.
		msgCtx := context.WithoutCancel(ctx)
		c.handleMessage(msgCtx, msg)

		if err := c.sub.Commit(msgCtx, msg); err != nil {
			c.log.Error().Err(err).
				Str("topic", msg.Topic).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Failed to commit offset")
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// handleMessage never fails: errors are logged so one bad message cannot
// stop consumption.
func (c *Consumer) handleMessage(ctx context.Context, msg bus.Message) {
	log := c.log.With().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()
	log.Debug().Msg("Message received")

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Panic while processing message")
		}
	}()

	start := c.now()
	doc, err := DecodeDocument(msg.Value, start)
	if err != nil {
		log.Error().Err(err).Msg("Dropping malformed message")
		c.deadLetter(ctx, log, msg, err)
		return
	}

	if err := c.handler(ctx, doc); err != nil {
		log.Error().Err(err).
			Int64("document_id", doc.ID).
			Msg("Failed to process message")
		return
	}

	log.Info().
		Int64("document_id", doc.ID).
		Str("document_type", doc.DocumentType).
		Dur("duration", c.now().Sub(start)).
		Msg("Message processed")
}

func (c *Consumer) deadLetter(ctx context.Context, log zerolog.Logger, msg bus.Message, cause error) {
	if c.cfg.DeadLetterTopic == "" || c.cfg.DeadLetter == nil {
		return
	}
	headers := map[string]string{
		"error":            cause.Error(),
		"source_topic":     msg.Topic,
		"source_offset":    fmt.Sprintf("%d", msg.Offset),
		"source_partition": fmt.Sprintf("%d", msg.Partition),
	}
	if _, err := c.cfg.DeadLetter.Publish(ctx, c.cfg.DeadLetterTopic, msg.Key, msg.Value, headers); err != nil {
		log.Error().Err(err).Str("dead_letter_topic", c.cfg.DeadLetterTopic).Msg("Failed to dead-letter message")
		return
	}
	log.Info().Str("dead_letter_topic", c.cfg.DeadLetterTopic).Msg("Message dead-lettered")
}
