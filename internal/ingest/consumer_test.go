package ingest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/finance-doc-processor/internal/bus"
	"github.com/dvloznov/finance-doc-processor/internal/bus/inmemory"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/logger"
	"github.com/rs/zerolog"
)

const (
	topic = "documents-to-process"
	group = "financial-document-processor"
)

// recordingHandler records handled documents and fails for chosen ids.
type recordingHandler struct {
	mu      sync.Mutex
	handled []int64
	failFor map[int64]bool
}

func (h *recordingHandler) Handle(ctx context.Context, doc domain.Document) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, doc.ID)
	if h.failFor[doc.ID] {
		return errors.New("processing exploded")
	}
	return nil
}

func (h *recordingHandler) ids() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.handled...)
}

func payloadFor(id string) []byte {
	return []byte(strings.Replace(validPayload, `"id": 42`, `"id": `+id, 1))
}

func publish(t *testing.T, b *inmemory.Bus, values ...[]byte) {
	t.Helper()
	for _, v := range values {
		if _, err := b.Publish(context.Background(), topic, nil, v, nil); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
}

func waitForCommits(t *testing.T, sub *inmemory.Subscriber, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if offset, _ := sub.Committed(); offset >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	offset, _ := sub.Committed()
	t.Fatalf("committed offset = %d, want %d", offset, want)
}

func startConsumer(t *testing.T, c *Consumer) {
	t.Helper()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Stop(ctx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
}

func TestConsumer_HandlerErrorDoesNotStopConsumption(t *testing.T) {
	b := inmemory.NewBus()
	sub := b.Subscribe(group, topic)
	h := &recordingHandler{failFor: map[int64]bool{1: true}}

	c := NewConsumer(sub, h.Handle, Config{}, zerolog.Nop())
	startConsumer(t, c)

	publish(t, b, payloadFor("1"), payloadFor("2"))
	waitForCommits(t, sub, 2)

	got := h.ids()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("handled = %v, want [1 2]", got)
	}
	if _, commits := sub.Committed(); commits != 2 {
		t.Errorf("commits = %d, want 2", commits)
	}
	if !c.Running() {
		t.Error("consumer should still be running")
	}
}

func TestConsumer_MalformedMessageDroppedAndCommitted(t *testing.T) {
	b := inmemory.NewBus()
	sub := b.Subscribe(group, topic)
	h := &recordingHandler{}

	buf := &bytes.Buffer{}
	c := NewConsumer(sub, h.Handle, Config{}, logger.NewWithWriter(buf))
	startConsumer(t, c)

	publish(t, b, []byte(`{"id": "x"`), payloadFor("3"))
	waitForCommits(t, sub, 2)

	if got := h.ids(); len(got) != 1 || got[0] != 3 {
		t.Errorf("handled = %v, want [3]", got)
	}
	if !strings.Contains(buf.String(), "Dropping malformed message") {
		t.Errorf("expected malformed message log, got: %s", buf.String())
	}
}

func TestConsumer_DeadLetter(t *testing.T) {
	b := inmemory.NewBus()
	sub := b.Subscribe(group, topic)
	h := &recordingHandler{}

	c := NewConsumer(sub, h.Handle, Config{DeadLetterTopic: "documents-dlq", DeadLetter: b}, zerolog.Nop())
	startConsumer(t, c)

	publish(t, b, []byte(`{"id": 5}`))
	waitForCommits(t, sub, 1)

	dead := b.Messages("documents-dlq")
	if len(dead) != 1 {
		t.Fatalf("dead-lettered %d messages, want 1", len(dead))
	}
	if string(dead[0].Value) != `{"id": 5}` {
		t.Errorf("dead letter value = %s", dead[0].Value)
	}
	if dead[0].Headers["source_topic"] != topic || !strings.Contains(dead[0].Headers["error"], "missing fields") {
		t.Errorf("dead letter headers = %v", dead[0].Headers)
	}
	if len(h.ids()) != 0 {
		t.Error("handler must not see malformed messages")
	}
}

func TestConsumer_HandlerPanicIsIsolated(t *testing.T) {
	b := inmemory.NewBus()
	sub := b.Subscribe(group, topic)

	var mu sync.Mutex
	var seen []int64
	handler := func(ctx context.Context, doc domain.Document) error {
		mu.Lock()
		seen = append(seen, doc.ID)
		mu.Unlock()
		if doc.ID == 1 {
			panic("boom")
		}
		return nil
	}

	c := NewConsumer(sub, handler, Config{}, zerolog.Nop())
	startConsumer(t, c)

	publish(t, b, payloadFor("1"), payloadFor("2"))
	waitForCommits(t, sub, 2)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("seen = %v, want both messages", seen)
	}
}

func TestConsumer_StartStopLifecycle(t *testing.T) {
	b := inmemory.NewBus()
	sub := b.Subscribe(group, topic)
	h := &recordingHandler{}
	c := NewConsumer(sub, h.Handle, Config{}, zerolog.Nop())

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on stopped consumer error = %v", err)
	}
	if c.Done() != nil {
		t.Error("Done() should be nil before Start")
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	done := c.Done()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if c.Done() != done {
		t.Error("second Start must not launch another loop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if c.Running() {
		t.Error("consumer still running after Stop")
	}
	if c.Err() != nil {
		t.Errorf("Err() after clean stop = %v", c.Err())
	}

	// Restart picks up where the subscription left off.
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	publish(t, b, payloadFor("9"))
	waitForCommits(t, sub, 1)
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestConsumer_StopWaitsForMessageInFlight(t *testing.T) {
	b := inmemory.NewBus()
	sub := b.Subscribe(group, topic)

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr error
	handler := func(ctx context.Context, doc domain.Document) error {
		close(started)
		<-release
		handlerCtxErr = ctx.Err()
		return nil
	}

	c := NewConsumer(sub, handler, Config{}, zerolog.Nop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	publish(t, b, payloadFor("1"))
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a message was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	if err := <-stopped; err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if handlerCtxErr != nil {
		t.Errorf("handler context was cancelled: %v", handlerCtxErr)
	}
	if offset, _ := sub.Committed(); offset != 1 {
		t.Errorf("in-flight message not committed, offset = %d", offset)
	}
}

func TestConsumer_FetchFailureStopsLoop(t *testing.T) {
	b := inmemory.NewBus()
	sub := b.Subscribe(group, topic)
	c := NewConsumer(sub, (&recordingHandler{}).Handle, Config{}, zerolog.Nop())

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after the bus closed")
	}
	if !errors.Is(c.Err(), bus.ErrClosed) {
		t.Errorf("Err() = %v, want bus.ErrClosed", c.Err())
	}
	if c.Running() {
		t.Error("consumer should be stopped")
	}
}

func TestConsumer_StartWithoutHandler(t *testing.T) {
	c := NewConsumer(inmemory.NewBus().Subscribe(group, topic), nil, Config{}, zerolog.Nop())
	if err := c.Start(context.Background()); err == nil {
		t.Error("Start() without handler expected error")
	}
}
