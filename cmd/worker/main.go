package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-doc-processor/internal/app"
	"github.com/dvloznov/finance-doc-processor/internal/bus"
	"github.com/dvloznov/finance-doc-processor/internal/bus/kafka"
	"github.com/dvloznov/finance-doc-processor/internal/config"
	"github.com/dvloznov/finance-doc-processor/internal/emitter"
	"github.com/dvloznov/finance-doc-processor/internal/ingest"
	"github.com/dvloznov/finance-doc-processor/internal/logger"
	"github.com/dvloznov/finance-doc-processor/internal/notionsync"
	"github.com/dvloznov/finance-doc-processor/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := logger.New()
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log, err := logger.NewWithOptions(cfg.App.LogLevel, cfg.App.LogFormat, os.Stdout)
	if err != nil {
		fallback := logger.New()
		fallback.Fatal().Err(err).Msg("Failed to create logger")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Worker stopped with error")
	}
	log.Info().Msg("Worker service exited")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("documents_topic", cfg.Kafka.DocumentsTopic).
		Str("processed_topic", cfg.Kafka.ProcessedTopic).
		Msg("Starting worker service")

	st, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLogged(log, "store", st.Close)

	pipe, err := app.NewPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLogged(log, "pipeline", pipe.Close)

	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		return err
	}
	defer closeLogged(log, "publisher", publisher.Close)

	handler := worker.NewHandler(st, pipe.Processor, emitter.New(publisher, cfg.Kafka.ProcessedTopic, log), log)
	if cfg.NotionEnabled() {
		client := notionsync.NewNotionClient(cfg.Notion.Token, cfg.RetryPolicy())
		handler.WithMirror(notionsync.NewMirror(client, cfg.Notion.DatabaseID, log))
		log.Info().Msg("Notion mirror enabled")
	}

	sub, err := kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.ConsumerGroup,
		Topic:   cfg.Kafka.DocumentsTopic,
	}, log)
	if err != nil {
		return err
	}
	defer closeLogged(log, "subscriber", sub.Close)

	consumer := ingest.NewConsumer(sub, handler.Handle, ingestConfig(cfg, publisher), log)
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	log.Info().Msg("Worker service started, waiting for documents...")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down worker service...")
	case <-consumer.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	stats := pipe.Engine.Stats()
	log.Info().
		Int64("pass_through", stats.PassThrough).
		Int64("rule_hits", stats.RuleHits).
		Int64("cache_hits", stats.CacheHits).
		Int64("ai_calls", stats.AICalls).
		Int64("ai_failures", stats.AIFailures).
		Msg("Categorization stats")

	if err := consumer.Err(); err != nil {
		return err
	}
	return nil
}

// ingestConfig routes malformed messages to the dead-letter topic when one
// is configured.
func ingestConfig(cfg *config.Config, publisher bus.Publisher) ingest.Config {
	if cfg.Kafka.DeadLetterTopic == "" {
		return ingest.Config{}
	}
	return ingest.Config{
		DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
		DeadLetter:      publisher,
	}
}

func closeLogged(log zerolog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Error().Err(err).Str("component", name).Msg("Failed to close")
	}
}
