package categorization

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

// MockAICategorizer is a hand-written AICategorizer for tests.
type MockAICategorizer struct {
	CategorizeFunc func(ctx context.Context, batch []*domain.Transaction, hints domain.CategoryHints) ([]*domain.Transaction, error)
	Calls          [][]*domain.Transaction
	Hints          []domain.CategoryHints
}

func (m *MockAICategorizer) CategorizeTransactions(ctx context.Context, batch []*domain.Transaction, hints domain.CategoryHints) ([]*domain.Transaction, error) {
	snapshot := make([]*domain.Transaction, len(batch))
	copy(snapshot, batch)
	m.Calls = append(m.Calls, snapshot)
	m.Hints = append(m.Hints, hints)
	if m.CategorizeFunc != nil {
		return m.CategorizeFunc(ctx, batch, hints)
	}
	return labelAll(batch, []string{"ai"}, 0.95), nil
}

// labelAll returns one result per input, echoing ids.
func labelAll(batch []*domain.Transaction, cats []string, conf float64) []*domain.Transaction {
	out := make([]*domain.Transaction, len(batch))
	for i, tx := range batch {
		c := conf
		out[i] = &domain.Transaction{ID: tx.ID, Categories: append([]string(nil), cats...), ConfidenceScore: &c}
	}
	return out
}

func newEngine(t *testing.T, ai AICategorizer, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(ai, nil, nil, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

// unmatched builds a debit transaction that no built-in rule matches, so it
// always falls through to the AI.
func unmatched(i int) *domain.Transaction {
	tx := newTx(fmt.Sprintf("LOJA %c", 'A'+rune(i%26)), "-10", domain.TransactionTypeDebit)
	tx.ID = uuid.New()
	tx.Description += fmt.Sprintf(" %s", string(rune('a'+i/26)))
	return tx
}

func TestNewEngine_Validation(t *testing.T) {
	if _, err := NewEngine(nil, nil, nil, DefaultConfig(), zerolog.Nop()); err == nil {
		t.Error("Expected error for nil AI categorizer")
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 0
	if _, err := NewEngine(&MockAICategorizer{}, nil, nil, cfg, zerolog.Nop()); err == nil {
		t.Error("Expected error for zero batch size")
	}
	cfg = DefaultConfig()
	cfg.MinConfidence = 1.5
	if _, err := NewEngine(&MockAICategorizer{}, nil, nil, cfg, zerolog.Nop()); err == nil {
		t.Error("Expected error for min confidence out of range")
	}
}

func TestCategorizeOne_PassThrough(t *testing.T) {
	ai := &MockAICategorizer{}
	e := newEngine(t, ai, nil)

	conf := 0.42
	tx := newTx("PAGAMENTO CONTA DE LUZ", "-10", domain.TransactionTypeDebit)
	tx.Categories = []string{" Mercado ", "mercado", "Casa"}
	tx.ConfidenceScore = &conf

	got, err := e.CategorizeOne(context.Background(), tx, true)
	if err != nil {
		t.Fatalf("CategorizeOne failed: %v", err)
	}
	if !reflect.DeepEqual(got.Categories, []string{"mercado", "casa"}) {
		t.Errorf("Categories = %q, want sanitized input", got.Categories)
	}
	if got.ConfidenceScore != &conf || *got.ConfidenceScore != 0.42 {
		t.Errorf("ConfidenceScore changed to %v", got.ConfidenceScore)
	}
	if len(ai.Calls) != 0 {
		t.Errorf("AI called %d times, want 0", len(ai.Calls))
	}
}

func TestCategorizeOne_PassThroughIsIdempotent(t *testing.T) {
	e := newEngine(t, &MockAICategorizer{}, nil)
	tx := newTx("ANY", "-10", domain.TransactionTypeDebit)
	tx.Categories = []string{"B", "a"}

	first, _ := e.CategorizeOne(context.Background(), tx, true)
	firstCats := append([]string(nil), first.Categories...)
	second, _ := e.CategorizeOne(context.Background(), first, true)
	if !reflect.DeepEqual(firstCats, second.Categories) {
		t.Errorf("second pass changed categories: %q -> %q", firstCats, second.Categories)
	}
}

func TestCategorizeOne_RuleMatch(t *testing.T) {
	ai := &MockAICategorizer{}
	e := newEngine(t, ai, nil)

	tx := newTx("PAGAMENTO CONTA DE LUZ", "-150", domain.TransactionTypeDebit)
	got, err := e.CategorizeOne(context.Background(), tx, true)
	if err != nil {
		t.Fatalf("CategorizeOne failed: %v", err)
	}
	if got.Confidence() < 0.7 {
		t.Errorf("Confidence = %v, want >= 0.7", got.Confidence())
	}
	found := false
	for _, c := range got.Categories {
		if c == "luz" || c == "energia elétrica" || c == "utilidades" {
			found = true
		}
	}
	if !found {
		t.Errorf("Categories = %q, want an energy or utility label", got.Categories)
	}
	if len(ai.Calls) != 0 {
		t.Errorf("AI called %d times, want 0", len(ai.Calls))
	}
}

func TestCategorizeOne_FallbackWithoutAI(t *testing.T) {
	ai := &MockAICategorizer{}
	e := newEngine(t, ai, nil)

	tx := newTx("ACME CORP", "3000", domain.TransactionTypeCredit)
	got, err := e.CategorizeOne(context.Background(), tx, false)
	if err != nil {
		t.Fatalf("CategorizeOne failed: %v", err)
	}
	if !reflect.DeepEqual(got.Categories, []string{"renda", "entrada"}) {
		t.Errorf("Categories = %q, want income fallback", got.Categories)
	}
	if got.Confidence() != 0.6 {
		t.Errorf("Confidence = %v, want 0.6", got.Confidence())
	}
	if len(ai.Calls) != 0 {
		t.Errorf("AI called %d times, want 0", len(ai.Calls))
	}
}

func TestCategorizeOne_AIAndCache(t *testing.T) {
	ai := &MockAICategorizer{
		CategorizeFunc: func(_ context.Context, batch []*domain.Transaction, _ domain.CategoryHints) ([]*domain.Transaction, error) {
			return labelAll(batch, []string{"Streaming", "lazer"}, 0.9), nil
		},
	}
	e := newEngine(t, ai, nil)

	first := newTx("ASSINATURA XPTO 29.90", "-29.90", domain.TransactionTypeDebit)
	if _, err := e.CategorizeOne(context.Background(), first, true); err != nil {
		t.Fatalf("CategorizeOne failed: %v", err)
	}
	if !reflect.DeepEqual(first.Categories, []string{"streaming", "lazer"}) {
		t.Errorf("Categories = %q", first.Categories)
	}
	if e.CacheLen() != 1 {
		t.Fatalf("CacheLen() = %d, want 1", e.CacheLen())
	}

	second := newTx("ASSINATURA XPTO 39.90", "-39.90", domain.TransactionTypeDebit)
	if _, err := e.CategorizeOne(context.Background(), second, true); err != nil {
		t.Fatalf("CategorizeOne failed: %v", err)
	}
	if len(ai.Calls) != 1 {
		t.Errorf("AI called %d times, want 1 (second should hit cache)", len(ai.Calls))
	}
	if !reflect.DeepEqual(second.Categories, []string{"streaming", "lazer"}) || second.Confidence() != 0.9 {
		t.Errorf("cached result = %q @ %v", second.Categories, second.Confidence())
	}

	second.Categories[0] = "mutated"
	third := newTx("ASSINATURA XPTO 49.90", "-49.90", domain.TransactionTypeDebit)
	e.CategorizeOne(context.Background(), third, true)
	if third.Categories[0] != "streaming" {
		t.Errorf("cache entry aliased a transaction: %q", third.Categories)
	}

	if s := e.Stats(); s.CacheHits != 2 || s.AICalls != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestCategorizeOne_LowConfidenceNotCached(t *testing.T) {
	ai := &MockAICategorizer{
		CategorizeFunc: func(_ context.Context, batch []*domain.Transaction, _ domain.CategoryHints) ([]*domain.Transaction, error) {
			return labelAll(batch, []string{"talvez"}, 0.79), nil
		},
	}
	e := newEngine(t, ai, nil)

	tx := newTx("LOJA XYZ", "-10", domain.TransactionTypeDebit)
	if _, err := e.CategorizeOne(context.Background(), tx, true); err != nil {
		t.Fatalf("CategorizeOne failed: %v", err)
	}
	if !reflect.DeepEqual(tx.Categories, []string{"talvez"}) {
		t.Errorf("Categories = %q", tx.Categories)
	}
	if e.CacheLen() != 0 {
		t.Errorf("CacheLen() = %d, want 0 for confidence below 0.8", e.CacheLen())
	}
}

func TestCategorizeOne_CachingDisabled(t *testing.T) {
	ai := &MockAICategorizer{}
	e := newEngine(t, ai, func(c *Config) { c.EnableCaching = false })

	for i := 0; i < 2; i++ {
		tx := newTx("LOJA XYZ", "-10", domain.TransactionTypeDebit)
		if _, err := e.CategorizeOne(context.Background(), tx, true); err != nil {
			t.Fatalf("CategorizeOne failed: %v", err)
		}
	}
	if len(ai.Calls) != 2 || e.CacheLen() != 0 {
		t.Errorf("calls = %d, cache = %d; want 2 calls and empty cache", len(ai.Calls), e.CacheLen())
	}
}

func TestCategorizeOne_AIError(t *testing.T) {
	aiErr := errors.New("provider down")
	ai := &MockAICategorizer{
		CategorizeFunc: func(context.Context, []*domain.Transaction, domain.CategoryHints) ([]*domain.Transaction, error) {
			return nil, aiErr
		},
	}
	e := newEngine(t, ai, nil)

	tx := newTx("LOJA XYZ", "-10", domain.TransactionTypeDebit)
	got, err := e.CategorizeOne(context.Background(), tx, true)
	if !errors.Is(err, aiErr) {
		t.Fatalf("CategorizeOne error = %v, want %v", err, aiErr)
	}
	if !reflect.DeepEqual(got.Categories, []string{"despesa"}) || got.Confidence() != 0.3 {
		t.Errorf("transaction = %q @ %v, want fallback state", got.Categories, got.Confidence())
	}
}

func TestCategorizeMany_BatchCount(t *testing.T) {
	tests := []struct {
		n, batchSize, wantCalls int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25, 10, 3},
		{7, 3, 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d,batch=%d", tt.n, tt.batchSize), func(t *testing.T) {
			ai := &MockAICategorizer{}
			e := newEngine(t, ai, func(c *Config) {
				c.BatchSize = tt.batchSize
				c.EnableCaching = false
			})

			txs := make([]*domain.Transaction, tt.n)
			for i := range txs {
				txs[i] = unmatched(i)
			}
			got, err := e.CategorizeMany(context.Background(), txs)
			if err != nil {
				t.Fatalf("CategorizeMany failed: %v", err)
			}
			if len(got) != tt.n {
				t.Errorf("len = %d, want %d", len(got), tt.n)
			}
			if len(ai.Calls) != tt.wantCalls {
				t.Errorf("AI calls = %d, want %d", len(ai.Calls), tt.wantCalls)
			}
			seen := 0
			for _, call := range ai.Calls {
				if len(call) > tt.batchSize {
					t.Errorf("batch of %d exceeds batch size %d", len(call), tt.batchSize)
				}
				for _, tx := range call {
					if tx != txs[seen] {
						t.Errorf("batch order differs from input at %d", seen)
					}
					seen++
				}
			}
		})
	}
}

func TestCategorizeMany_OnlyUnresolvedGoToAI(t *testing.T) {
	ai := &MockAICategorizer{}
	e := newEngine(t, ai, nil)

	preset := newTx("ANY", "-1", domain.TransactionTypeDebit)
	preset.Categories = []string{"fixo"}
	rule := newTx("ALUGUEL", "-1000", domain.TransactionTypeDebit)
	unknown := unmatched(0)

	got, err := e.CategorizeMany(context.Background(), []*domain.Transaction{preset, rule, unknown})
	if err != nil {
		t.Fatalf("CategorizeMany failed: %v", err)
	}
	if len(ai.Calls) != 1 || len(ai.Calls[0]) != 1 || ai.Calls[0][0] != unknown {
		t.Fatalf("AI calls = %v, want single batch with the unmatched transaction", ai.Calls)
	}
	if !reflect.DeepEqual(got[0].Categories, []string{"fixo"}) {
		t.Errorf("preset = %q", got[0].Categories)
	}
	if got[1].Categories[0] != "aluguel" {
		t.Errorf("rule = %q", got[1].Categories)
	}
	if !reflect.DeepEqual(got[2].Categories, []string{"ai"}) {
		t.Errorf("ai = %q", got[2].Categories)
	}
}

func TestCategorizeMany_PartialBatchFailure(t *testing.T) {
	call := 0
	ai := &MockAICategorizer{
		CategorizeFunc: func(_ context.Context, batch []*domain.Transaction, _ domain.CategoryHints) ([]*domain.Transaction, error) {
			call++
			if call == 1 {
				return nil, errors.New("rate limited")
			}
			return labelAll(batch, []string{"ai"}, 0.9), nil
		},
	}
	e := newEngine(t, ai, func(c *Config) {
		c.BatchSize = 2
		c.EnableCaching = false
	})

	txs := []*domain.Transaction{unmatched(0), unmatched(1), unmatched(2), unmatched(3), unmatched(4)}
	got, err := e.CategorizeMany(context.Background(), txs)
	if err != nil {
		t.Fatalf("CategorizeMany failed: %v", err)
	}
	if len(got) != len(txs) {
		t.Fatalf("len = %d, want %d", len(got), len(txs))
	}
	if call != 3 {
		t.Errorf("AI calls = %d, want 3", call)
	}
	for i := 0; i < 2; i++ {
		if !reflect.DeepEqual(got[i].Categories, []string{"despesa"}) || got[i].Confidence() != 0.3 {
			t.Errorf("failed batch tx %d = %q @ %v, want fallback state", i, got[i].Categories, got[i].Confidence())
		}
	}
	for i := 2; i < 5; i++ {
		if !reflect.DeepEqual(got[i].Categories, []string{"ai"}) {
			t.Errorf("tx %d = %q, want AI result", i, got[i].Categories)
		}
	}
	if s := e.Stats(); s.AIFailures != 1 {
		t.Errorf("AIFailures = %d, want 1", s.AIFailures)
	}
}

func TestCategorizeMany_MatchesByEchoedID(t *testing.T) {
	ai := &MockAICategorizer{
		CategorizeFunc: func(_ context.Context, batch []*domain.Transaction, _ domain.CategoryHints) ([]*domain.Transaction, error) {
			conf := 0.9
			// Reordered, and the first item dropped.
			return []*domain.Transaction{
				{ID: batch[2].ID, Categories: []string{"third"}, ConfidenceScore: &conf},
				{ID: batch[1].ID, Categories: []string{"second"}, ConfidenceScore: &conf},
			}, nil
		},
	}
	e := newEngine(t, ai, func(c *Config) { c.EnableCaching = false })

	txs := []*domain.Transaction{unmatched(0), unmatched(1), unmatched(2)}
	if _, err := e.CategorizeMany(context.Background(), txs); err != nil {
		t.Fatalf("CategorizeMany failed: %v", err)
	}
	if !reflect.DeepEqual(txs[0].Categories, []string{"despesa"}) {
		t.Errorf("tx 0 = %q, want fallback", txs[0].Categories)
	}
	if !reflect.DeepEqual(txs[1].Categories, []string{"second"}) {
		t.Errorf("tx 1 = %q", txs[1].Categories)
	}
	if !reflect.DeepEqual(txs[2].Categories, []string{"third"}) {
		t.Errorf("tx 2 = %q", txs[2].Categories)
	}
}

func TestCategorizeMany_PositionalWithoutIDs(t *testing.T) {
	ai := &MockAICategorizer{
		CategorizeFunc: func(_ context.Context, batch []*domain.Transaction, _ domain.CategoryHints) ([]*domain.Transaction, error) {
			out := make([]*domain.Transaction, len(batch))
			for i := range batch {
				conf := 0.85
				out[i] = &domain.Transaction{Categories: []string{fmt.Sprintf("c%d", i)}, ConfidenceScore: &conf}
			}
			return out, nil
		},
	}
	e := newEngine(t, ai, func(c *Config) { c.EnableCaching = false })

	txs := []*domain.Transaction{unmatched(0), unmatched(1)}
	e.CategorizeMany(context.Background(), txs)
	if txs[0].Categories[0] != "c0" || txs[1].Categories[0] != "c1" {
		t.Errorf("positional match failed: %q, %q", txs[0].Categories, txs[1].Categories)
	}
}

func TestCategorizeMany_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ai := &MockAICategorizer{
		CategorizeFunc: func(_ context.Context, batch []*domain.Transaction, _ domain.CategoryHints) ([]*domain.Transaction, error) {
			cancel()
			return labelAll(batch, []string{"ai"}, 0.9), nil
		},
	}
	e := newEngine(t, ai, func(c *Config) { c.BatchSize = 1 })

	txs := []*domain.Transaction{unmatched(0), unmatched(1)}
	got, err := e.CategorizeMany(ctx, txs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(got) != 2 || len(ai.Calls) != 1 {
		t.Errorf("len = %d, calls = %d", len(got), len(ai.Calls))
	}
}

func TestEngine_Hints(t *testing.T) {
	ai := &MockAICategorizer{}
	e := newEngine(t, ai, nil)
	e.CategorizeOne(context.Background(), unmatched(0), true)
	if len(ai.Hints) != 1 || len(ai.Hints[0].Allowed) == 0 || len(ai.Hints[0].Avoid) != 0 {
		t.Errorf("hints with predefined list = %+v", ai.Hints)
	}

	ai = &MockAICategorizer{}
	e = newEngine(t, ai, func(c *Config) { c.PredefinedCategories = nil })
	e.CategorizeOne(context.Background(), unmatched(0), true)
	if len(ai.Hints) != 1 || len(ai.Hints[0].Allowed) != 0 || len(ai.Hints[0].Avoid) == 0 {
		t.Errorf("hints without predefined list = %+v", ai.Hints)
	}
}

func TestFilterCategories(t *testing.T) {
	e := newEngine(t, &MockAICategorizer{}, func(c *Config) {
		c.PredefinedCategories = []string{"luz", "água"}
	})

	tests := []struct {
		name       string
		categories []string
		allowed    []string
		want       []string
	}{
		{"explicit allow list", []string{"luz", "água", "xyz"}, []string{"luz", "internet"}, []string{"luz"}},
		{"case insensitive", []string{"LUZ", " Internet "}, []string{"luz", "internet"}, []string{"luz", "internet"}},
		{"configured list", []string{"xyz", "Água", "luz"}, nil, []string{"água", "luz"}},
		{"nothing allowed", []string{"xyz"}, []string{"luz"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.FilterCategories(tt.categories, tt.allowed)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FilterCategories(%q, %q) = %q, want %q", tt.categories, tt.allowed, got, tt.want)
			}
		})
	}

	free := newEngine(t, &MockAICategorizer{}, func(c *Config) { c.PredefinedCategories = nil })
	if got := free.FilterCategories([]string{"A", "a", "b"}, nil); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("FilterCategories without any list = %q", got)
	}
}
