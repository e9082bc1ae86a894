package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-doc-processor/internal/bus"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

func TestNewSubscriber_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SubscriberConfig
	}{
		{"no brokers", SubscriberConfig{GroupID: "g", Topic: "t"}},
		{"no group", SubscriberConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}},
		{"no topic", SubscriberConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSubscriber(tt.cfg, zerolog.Nop()); err == nil {
				t.Error("NewSubscriber() expected error")
			}
		})
	}
}

func TestPublisher_ClosedReturnsErrClosed(t *testing.T) {
	if _, err := NewPublisher(PublisherConfig{}); err == nil {
		t.Fatal("NewPublisher() without brokers expected error")
	}

	p, err := NewPublisher(PublisherConfig{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = p.Publish(ctx, "processed-documents", []byte("1"), []byte("{}"), nil)
	if !errors.Is(err, bus.ErrClosed) {
		t.Errorf("Publish() after Close error = %v, want bus.ErrClosed", err)
	}
}

func TestMessageConversion(t *testing.T) {
	m := kafkago.Message{
		Topic:     "documents-to-process",
		Partition: 2,
		Offset:    41,
		Key:       []byte("42"),
		Value:     []byte(`{"id":42}`),
		Headers:   []kafkago.Header{{Key: "source", Value: []byte("fdp")}},
	}

	got := fromKafka(m)
	if got.Topic != m.Topic || got.Partition != 2 || got.Offset != 41 {
		t.Errorf("fromKafka() = %+v", got)
	}
	if got.Headers["source"] != "fdp" {
		t.Errorf("headers = %v", got.Headers)
	}
	if string(got.Value) != `{"id":42}` {
		t.Errorf("value = %s", got.Value)
	}

	if h := toHeaders(nil); h != nil {
		t.Errorf("toHeaders(nil) = %v, want nil", h)
	}
	h := toHeaders(map[string]string{"error": "malformed"})
	if len(h) != 1 || h[0].Key != "error" || string(h[0].Value) != "malformed" {
		t.Errorf("toHeaders() = %v", h)
	}
}
