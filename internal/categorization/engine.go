// Package categorization assigns spending categories to transactions using
// a layered policy: keep existing categories, then the rule table, then the
// result cache, and only then a batched AI call.
package categorization

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

const (
	// DefaultBatchSize is the number of transactions sent per AI call.
	DefaultBatchSize = 10
	// DefaultMinConfidence is the rule confidence accepted without AI.
	DefaultMinConfidence = 0.7
	// CacheMinConfidence is the AI confidence required to cache a result.
	CacheMinConfidence = 0.8
)

// AICategorizer categorizes a batch of transactions. The returned slice is
// expected to line up with the input; results that echo a transaction id
// are matched by id instead.
type AICategorizer interface {
	CategorizeTransactions(ctx context.Context, batch []*domain.Transaction, hints domain.CategoryHints) ([]*domain.Transaction, error)
}

// Config holds the tunables of an Engine.
type Config struct {
	// PredefinedCategories restricts AI output and is the default allow list
	// of FilterCategories. Empty means free-form labels.
	PredefinedCategories []string
	// GenericCategories are labels the AI is told to avoid in free-form mode.
	GenericCategories []string
	BatchSize         int
	MinConfidence     float64
	EnableCaching     bool
}

// DefaultConfig returns the configuration used by the service.
func DefaultConfig() Config {
	return Config{
		PredefinedCategories: domain.DefaultPredefinedCategories(),
		GenericCategories:    domain.DefaultGenericCategories(),
		BatchSize:            DefaultBatchSize,
		MinConfidence:        DefaultMinConfidence,
		EnableCaching:        true,
	}
}

// Stats counts how transactions were resolved since the engine started.
type Stats struct {
	PassThrough int64
	RuleHits    int64
	CacheHits   int64
	AIQueued    int64
	AICalls     int64
	AIFailures  int64
}

// Engine is the hybrid categorizer. It is safe for concurrent use; two
// concurrent misses on the same cache key may both reach the AI, which only
// costs a duplicate call.
type Engine struct {
	ai    AICategorizer
	rules *RuleSet
	cache Cache
	cfg   Config
	hints domain.CategoryHints
	log   zerolog.Logger
	allow map[string]struct{}

	passThrough, ruleHits, cacheHits atomic.Int64
	aiQueued, aiCalls, aiFailures    atomic.Int64
}

// NewEngine builds an engine. rules and cache may be nil, in which case the
// built-in rule table and an unbounded cache are used.
func NewEngine(ai AICategorizer, rules *RuleSet, cache Cache, cfg Config, log zerolog.Logger) (*Engine, error) {
	if ai == nil {
		return nil, fmt.Errorf("NewEngine: AI categorizer is required")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("NewEngine: batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("NewEngine: min confidence %v out of range [0,1]", cfg.MinConfidence)
	}
	if rules == nil {
		rules = DefaultRuleSet()
	}
	if cache == nil {
		cache = NewMapCache()
	}

	e := &Engine{
		ai:    ai,
		rules: rules,
		cache: cache,
		cfg:   cfg,
		log:   log.With().Str("component", "categorization").Logger(),
		allow: make(map[string]struct{}),
	}

	predefined := domain.SanitizeCategories(cfg.PredefinedCategories)
	for _, c := range predefined {
		e.allow[c] = struct{}{}
	}
	if len(predefined) > 0 {
		e.hints = domain.CategoryHints{Allowed: predefined}
	} else {
		e.hints = domain.CategoryHints{Avoid: domain.SanitizeCategories(cfg.GenericCategories)}
	}

	e.log.Info().
		Int("rules", rules.Len()).
		Int("predefined_categories", len(predefined)).
		Int("batch_size", cfg.BatchSize).
		Msg("Categorization engine initialized")

	return e, nil
}

// CategorizeOne categorizes a single transaction in place and returns it.
// With useAI=false the rule or fallback result is kept when neither the
// rules nor the cache are conclusive. An AI failure is returned together
// with the transaction in its rule/fallback state.
func (e *Engine) CategorizeOne(ctx context.Context, tx *domain.Transaction, useAI bool) (*domain.Transaction, error) {
	if !e.resolveLocally(tx) || !useAI {
		return tx, nil
	}
	if err := e.categorizeBatch(ctx, []*domain.Transaction{tx}); err != nil {
		return tx, fmt.Errorf("CategorizeOne: %w", err)
	}
	return tx, nil
}

// CategorizeMany categorizes txs in place and returns the same slice. Every
// transaction the rules and cache cannot settle is sent to the AI in
// batches of Config.BatchSize, one batch at a time in input order. A failing
// batch is logged and its transactions keep their rule/fallback state. The
// only error returned is the context's, when it ends before all batches ran.
func (e *Engine) CategorizeMany(ctx context.Context, txs []*domain.Transaction) ([]*domain.Transaction, error) {
	if len(txs) == 0 {
		return txs, nil
	}

	var pending []*domain.Transaction
	for _, tx := range txs {
		if e.resolveLocally(tx) {
			pending = append(pending, tx)
		}
	}
	if len(pending) == 0 {
		return txs, nil
	}

	batches := splitBatches(pending, e.cfg.BatchSize)
	e.log.Debug().
		Int("transactions", len(txs)).
		Int("ai_pending", len(pending)).
		Int("batches", len(batches)).
		Msg("Dispatching AI categorization")

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return txs, err
		}
		if err := e.categorizeBatch(ctx, batch); err != nil {
			e.log.Error().
				Err(err).
				Int("batch", i+1).
				Int("batch_size", len(batch)).
				Msg("AI categorization batch failed, keeping rule-based categories")
		}
	}

	return txs, nil
}

// resolveLocally runs the non-AI stages on tx and reports whether tx still
// needs the AI. When it does, tx carries the rule/fallback result.
func (e *Engine) resolveLocally(tx *domain.Transaction) bool {
	if tx.HasCategories() {
		tx.Categories = domain.SanitizeCategories(tx.Categories)
		e.passThrough.Add(1)
		return false
	}

	m := e.rules.Apply(tx)
	tx.SetCategorization(m.Categories, m.Confidence)
	if m.Confidence >= e.cfg.MinConfidence {
		e.ruleHits.Add(1)
		return false
	}

	if e.cfg.EnableCaching {
		if entry, ok := e.cache.Get(CacheKey(tx)); ok {
			tx.SetCategorization(entry.Categories, entry.Confidence)
			e.cacheHits.Add(1)
			return false
		}
	}

	e.aiQueued.Add(1)
	return true
}

// categorizeBatch sends one batch to the AI and applies the results to the
// original transactions.
func (e *Engine) categorizeBatch(ctx context.Context, batch []*domain.Transaction) error {
	e.aiCalls.Add(1)
	results, err := e.ai.CategorizeTransactions(ctx, batch, e.hints)
	if err != nil {
		e.aiFailures.Add(1)
		return err
	}

	for i, tx := range batch {
		res := matchResult(tx, i, results)
		if res == nil {
			continue
		}
		cats := domain.SanitizeCategories(res.Categories)
		if len(cats) == 0 {
			continue
		}
		tx.Categories = cats
		tx.ConfidenceScore = res.ConfidenceScore

		if e.cfg.EnableCaching && tx.Confidence() >= CacheMinConfidence {
			e.cache.Put(CacheKey(tx), Entry{Categories: cats, Confidence: tx.Confidence()})
		}
	}
	return nil
}

// matchResult finds the AI result for tx: by id when a result echoes it,
// otherwise the result at the same position if it carries no id.
func matchResult(tx *domain.Transaction, pos int, results []*domain.Transaction) *domain.Transaction {
	for _, r := range results {
		if r != nil && r.ID == tx.ID {
			return r
		}
	}
	if pos < len(results) && results[pos] != nil && results[pos].ID == uuid.Nil {
		return results[pos]
	}
	return nil
}

func splitBatches(txs []*domain.Transaction, size int) [][]*domain.Transaction {
	batches := make([][]*domain.Transaction, 0, (len(txs)+size-1)/size)
	for start := 0; start < len(txs); start += size {
		end := start + size
		if end > len(txs) {
			end = len(txs)
		}
		batches = append(batches, txs[start:end])
	}
	return batches
}

// FilterCategories returns the sanitized entries of categories that appear
// in allowed, compared case-insensitively, in input order. A nil or empty
// allowed list falls back to the configured predefined categories; with
// neither, the sanitized input is returned.
func (e *Engine) FilterCategories(categories []string, allowed []string) []string {
	allowSet := e.allow
	if len(allowed) > 0 {
		allowSet = make(map[string]struct{}, len(allowed))
		for _, a := range allowed {
			allowSet[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
		}
	}
	if len(allowSet) == 0 {
		return domain.SanitizeCategories(categories)
	}

	filtered := make([]string, 0, len(categories))
	for _, c := range categories {
		if _, ok := allowSet[strings.ToLower(strings.TrimSpace(c))]; ok {
			filtered = append(filtered, c)
		}
	}
	return domain.SanitizeCategories(filtered)
}

// Hints returns the category guidance sent with every AI batch.
func (e *Engine) Hints() domain.CategoryHints { return e.hints }

// CacheLen returns the number of cached descriptions.
func (e *Engine) CacheLen() int { return e.cache.Len() }

// Stats returns a snapshot of the resolution counters.
func (e *Engine) Stats() Stats {
	return Stats{
		PassThrough: e.passThrough.Load(),
		RuleHits:    e.ruleHits.Load(),
		CacheHits:   e.cacheHits.Load(),
		AIQueued:    e.aiQueued.Load(),
		AICalls:     e.aiCalls.Load(),
		AIFailures:  e.aiFailures.Load(),
	}
}
