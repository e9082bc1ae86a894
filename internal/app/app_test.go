package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-doc-processor/internal/config"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/store/memory"
	"github.com/dvloznov/finance-doc-processor/internal/store/sqlite"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.DefaultConfig()
		st, err := OpenStore(ctx, cfg, zerolog.Nop())
		if err != nil {
			t.Fatalf("OpenStore() error = %v", err)
		}
		defer st.Close()
		if _, ok := st.(*memory.Store); !ok {
			t.Errorf("store = %T, want *memory.Store", st)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Storage.Backend = "SQLite"
		cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "fdp.db")
		st, err := OpenStore(ctx, cfg, zerolog.Nop())
		if err != nil {
			t.Fatalf("OpenStore() error = %v", err)
		}
		defer st.Close()
		if _, ok := st.(*sqlite.Store); !ok {
			t.Errorf("store = %T, want *sqlite.Store", st)
		}
	})

	t.Run("bigquery without project", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Storage.Backend = config.BackendBigQuery
		if _, err := OpenStore(ctx, cfg, zerolog.Nop()); err == nil || !strings.Contains(err.Error(), "bigquery_project") {
			t.Errorf("OpenStore() error = %v, want missing project", err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Storage.Backend = "postgres"
		if _, err := OpenStore(ctx, cfg, zerolog.Nop()); err == nil {
			t.Error("expected error")
		}
	})
}

// noAI fails the test if the engine reaches the AI.
type noAI struct{ t *testing.T }

func (a noAI) CategorizeTransactions(context.Context, []*domain.Transaction, domain.CategoryHints) ([]*domain.Transaction, error) {
	a.t.Error("AI called")
	return nil, nil
}

func TestNewEngine(t *testing.T) {
	t.Run("rules file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		rules := "rules:\n  - pattern: padaria\n    categories: [padaria, alimentação]\n"
		if err := os.WriteFile(path, []byte(rules), 0o600); err != nil {
			t.Fatalf("write rules: %v", err)
		}

		cfg := config.DefaultConfig()
		cfg.Categorization.RulesPath = path
		cfg.Categorization.MinConfidence = 0.5

		engine, err := NewEngine(cfg, noAI{t}, zerolog.Nop())
		if err != nil {
			t.Fatalf("NewEngine() error = %v", err)
		}

		tx, err := domain.NewTransaction(domain.Transaction{
			Description: "PADARIA DO ZE",
			Amount:      decimal.RequireFromString("12.50"),
			Type:        domain.TransactionTypeDebit,
		})
		if err != nil {
			t.Fatalf("NewTransaction() error = %v", err)
		}
		got, err := engine.CategorizeOne(context.Background(), tx, true)
		if err != nil {
			t.Fatalf("CategorizeOne() error = %v", err)
		}
		if len(got.Categories) == 0 || got.Categories[0] != "padaria" {
			t.Errorf("categories = %v, want padaria first", got.Categories)
		}
	})

	t.Run("missing rules file", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Categorization.RulesPath = filepath.Join(t.TempDir(), "missing.yaml")
		if _, err := NewEngine(cfg, noAI{t}, zerolog.Nop()); err == nil {
			t.Error("expected error")
		}
	})
}

func TestNewPipeline(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AI.OpenAIAPIKey = "sk-test"

	p, err := NewPipeline(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	defer p.Close()

	if p.Provider.Name() != "OpenAI" {
		t.Errorf("provider = %q, want OpenAI", p.Provider.Name())
	}

	if data, err := p.Extractor.Fetch(context.Background(), "file:///etc/hostname"); err == nil {
		t.Errorf("Fetch() = %q, file URIs should be rejected by default", data)
	}

	if _, err := p.Extractor.Extract(context.Background(), []byte("%PDF"), "application/pdf"); err == nil {
		t.Error("PDF accepted without a transcriber")
	}
}

func TestNewPipeline_LocalFilesDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extrato.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.AI.OpenAIAPIKey = "sk-test"
	cfg.Storage.LocalFilesDir = dir
	p, err := NewPipeline(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	defer p.Close()

	tests := []struct {
		name    string
		uri     string
		want    string
		wantErr bool
	}{
		{name: "inside directory", uri: "file://" + path, want: "hello"},
		{name: "outside directory", uri: "file://" + outside, wantErr: true},
		{name: "system file", uri: "file:///etc/passwd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := p.Extractor.Fetch(context.Background(), tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Fetch() = %q, want error", data)
				}
				return
			}
			if err != nil || string(data) != tt.want {
				t.Errorf("Fetch() = %q, %v; want %q", data, err, tt.want)
			}
		})
	}
}

func TestNewPipeline_UnknownProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AI.Provider = "llama"
	if _, err := NewPipeline(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Error("expected error")
	}
}
