// Package app wires configuration into the service components shared by
// the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-doc-processor/internal/ai"
	"github.com/dvloznov/finance-doc-processor/internal/categorization"
	"github.com/dvloznov/finance-doc-processor/internal/config"
	"github.com/dvloznov/finance-doc-processor/internal/extract"
	"github.com/dvloznov/finance-doc-processor/internal/pipeline"
	"github.com/dvloznov/finance-doc-processor/internal/store"
	bqstore "github.com/dvloznov/finance-doc-processor/internal/store/bigquery"
	"github.com/dvloznov/finance-doc-processor/internal/store/memory"
	"github.com/dvloznov/finance-doc-processor/internal/store/sqlite"
)

// OpenStore opens the configured persistence backend.
func OpenStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	backend := strings.ToLower(cfg.Storage.Backend)
	log.Info().Str("backend", backend).Msg("Opening store")

	switch backend {
	case config.BackendMemory:
		return memory.NewStore(), nil
	case config.BackendSQLite:
		st, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return st, nil
	case config.BackendBigQuery:
		if cfg.Storage.BigQueryProject == "" {
			return nil, fmt.Errorf("OpenStore: storage.bigquery_project is required for the bigquery backend")
		}
		st, err := bqstore.NewStore(ctx, cfg.Storage.BigQueryProject, cfg.Storage.BigQueryDataset)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("OpenStore: unknown backend %q", cfg.Storage.Backend)
	}
}

// NewEngine builds the categorization engine on top of provider.
func NewEngine(cfg *config.Config, provider categorization.AICategorizer, log zerolog.Logger) (*categorization.Engine, error) {
	rules := categorization.DefaultRuleSet()
	if path := cfg.Categorization.RulesPath; path != "" {
		loaded, err := categorization.LoadRuleSet(path)
		if err != nil {
			return nil, fmt.Errorf("NewEngine: %w", err)
		}
		rules = loaded
	}

	cache, err := categorization.NewCache(cfg.Categorization.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("NewEngine: %w", err)
	}

	engine, err := categorization.NewEngine(provider, rules, cache, cfg.EngineConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("NewEngine: %w", err)
	}
	return engine, nil
}

// Pipeline is the document processing stack built from configuration.
type Pipeline struct {
	Provider  ai.Provider
	Engine    *categorization.Engine
	Extractor *extract.Service
	Processor *pipeline.Processor

	closers []func() error
}

// Close releases the storage clients opened for content fetching.
func (p *Pipeline) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewPipeline creates the AI provider, engine, extraction service and
// processor. PDFs and images are transcribed with Gemini whenever a Gemini
// key is configured, regardless of the categorization provider.
func NewPipeline(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Pipeline, error) {
	provider, err := ai.NewProvider(ctx, cfg.ProviderConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("NewPipeline: %w", err)
	}
	p := &Pipeline{Provider: provider}

	engine, err := NewEngine(cfg, provider, log)
	if err != nil {
		return nil, fmt.Errorf("NewPipeline: %w", err)
	}
	p.Engine = engine

	transcriber, err := newTranscriber(ctx, cfg, provider, log)
	if err != nil {
		return nil, fmt.Errorf("NewPipeline: %w", err)
	}

	p.Extractor = extract.NewService(transcriber, log)
	if cfg.Storage.LocalFilesDir != "" {
		p.Extractor.RegisterFetcher("file", extract.FileFetcher{Root: cfg.Storage.LocalFilesDir})
	}
	if cfg.Storage.GCSEnabled {
		gcs, err := extract.NewGCSStore(ctx)
		if err != nil {
			return nil, fmt.Errorf("NewPipeline: %w", err)
		}
		p.Extractor.RegisterFetcher("gs", gcs)
		p.closers = append(p.closers, gcs.Close)
	}

	p.Processor = pipeline.NewProcessor(pipeline.DefaultParsers(provider), p.Extractor, engine)

	log.Info().
		Str("provider", provider.Name()).
		Float64("cost_per_1k_tokens", provider.CostPerUnit()).
		Bool("transcription", transcriber != nil).
		Bool("gcs", cfg.Storage.GCSEnabled).
		Str("local_files_dir", cfg.Storage.LocalFilesDir).
		Msg("Processing pipeline ready")
	return p, nil
}

func newTranscriber(ctx context.Context, cfg *config.Config, provider ai.Provider, log zerolog.Logger) (extract.Transcriber, error) {
	if t, ok := provider.(extract.Transcriber); ok {
		return t, nil
	}
	if cfg.AI.GeminiAPIKey == "" {
		log.Warn().Msg("No Gemini key configured, PDF and image documents will be rejected")
		return nil, nil
	}
	gemini, err := ai.NewGeminiProvider(ctx, ai.GeminiConfig{
		APIKey: cfg.AI.GeminiAPIKey,
		Model:  cfg.AI.GeminiModel,
	}, cfg.RetryPolicy(), log)
	if err != nil {
		return nil, err
	}
	return gemini, nil
}
