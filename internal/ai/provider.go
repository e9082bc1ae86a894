// Package ai talks to generative-AI providers to extract transactions from
// document text and to categorize transactions in batches.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/retry"
)

var (
	// ErrUnknownProvider is returned by NewProvider for unsupported names.
	ErrUnknownProvider = errors.New("unknown AI provider")
	// ErrNoJSON is returned when a model response holds no JSON object.
	ErrNoJSON = errors.New("no JSON object in model response")
)

const (
	// maxPromptText caps the document text sent for extraction.
	maxPromptText = 15000
	// defaultMaxTokens bounds completions for providers that require it.
	defaultMaxTokens = 4096
)

// Provider is the contract shared by every AI backend.
type Provider interface {
	Name() string
	ExtractTransactions(ctx context.Context, text, documentType string, hintCategories []string) ([]*domain.Transaction, error)
	CategorizeTransactions(ctx context.Context, batch []*domain.Transaction, hints domain.CategoryHints) ([]*domain.Transaction, error)
	// CostPerUnit is the estimated USD cost per 1000 tokens of the
	// configured model.
	CostPerUnit() float64
}

// completion is a raw model answer.
type completion struct {
	Text   string
	Tokens int
}

// completeFunc sends one system+user prompt pair to a model.
type completeFunc func(ctx context.Context, system, prompt string) (completion, error)

// base carries the logic shared by all providers; variants differ only in
// transport and prompt style.
type base struct {
	name        string
	model       string
	costs       map[string]float64
	defaultCost float64
	style       promptStyle
	policy      retry.Policy
	log         zerolog.Logger
	complete    completeFunc
}

func (b *base) Name() string { return b.name }

func (b *base) CostPerUnit() float64 {
	if c, ok := b.costs[b.model]; ok {
		return c
	}
	return b.defaultCost
}

// call runs one completion under the retry policy and logs its usage.
func (b *base) call(ctx context.Context, op, system, prompt string) (string, error) {
	var out completion
	err := b.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = b.complete(ctx, system, prompt)
		return err
	})
	if err != nil {
		return "", err
	}

	b.log.Debug().
		Str("provider", b.name).
		Str("model", b.model).
		Str("operation", op).
		Int("tokens", out.Tokens).
		Float64("estimated_cost_usd", float64(out.Tokens)/1000*b.CostPerUnit()).
		Msg("AI call completed")

	return out.Text, nil
}

// ExtractTransactions asks the model for every transaction in text. Items
// the model returns in an unusable shape are logged and skipped.
func (b *base) ExtractTransactions(ctx context.Context, text, documentType string, hintCategories []string) ([]*domain.Transaction, error) {
	prompt := b.style.extraction(truncateText(text, maxPromptText), documentType, hintCategories)
	raw, err := b.call(ctx, "extract", b.style.extractionSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s.ExtractTransactions: %w", b.name, err)
	}

	items, err := decodeItems(raw)
	if err != nil {
		return nil, fmt.Errorf("%s.ExtractTransactions: %w", b.name, err)
	}

	txs := make([]*domain.Transaction, 0, len(items))
	for i, item := range items {
		tx, err := item.toTransaction()
		if err != nil {
			b.log.Warn().Err(err).Int("item", i).Str("provider", b.name).Msg("Skipping unusable transaction from model")
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// CategorizeTransactions asks the model to label batch. Results carry only
// id, categories and confidence; the id is uuid.Nil when the model did not
// echo a valid one, leaving the caller to match by position.
func (b *base) CategorizeTransactions(ctx context.Context, batch []*domain.Transaction, hints domain.CategoryHints) ([]*domain.Transaction, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	payload, err := json.MarshalIndent(promptTransactions(batch), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%s.CategorizeTransactions: marshal batch: %w", b.name, err)
	}
	prompt := b.style.categorization(string(payload), categoryInstructions(hints))

	raw, err := b.call(ctx, "categorize", b.style.categorizationSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s.CategorizeTransactions: %w", b.name, err)
	}

	items, err := decodeItems(raw)
	if err != nil {
		return nil, fmt.Errorf("%s.CategorizeTransactions: %w", b.name, err)
	}

	results := make([]*domain.Transaction, len(items))
	for i, item := range items {
		results[i] = item.toCategorization()
	}
	return results, nil
}

func truncateText(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

// Config selects and configures a provider.
type Config struct {
	Provider string

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	GeminiKey   string
	GeminiModel string

	ClaudeKey     string
	ClaudeModel   string
	ClaudeBaseURL string

	Retry retry.Policy
}

// NewProvider builds the provider named by cfg.Provider: "openai",
// "gemini" or "claude".
func NewProvider(ctx context.Context, cfg Config, log zerolog.Logger) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		}, cfg.Retry, log), nil
	case "gemini":
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey: cfg.GeminiKey,
			Model:  cfg.GeminiModel,
		}, cfg.Retry, log)
	case "claude":
		return NewClaudeProvider(ClaudeConfig{
			APIKey:  cfg.ClaudeKey,
			Model:   cfg.ClaudeModel,
			BaseURL: cfg.ClaudeBaseURL,
		}, cfg.Retry, log), nil
	default:
		return nil, fmt.Errorf("NewProvider: %w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
