package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockTextExtractor is a mock implementation of TextExtractor.
type MockTextExtractor struct {
	DecodeFunc  func(ctx context.Context, rawB64, contentType string) (string, error)
	ExtractFunc func(ctx context.Context, data []byte, contentType string) (string, error)
	FetchFunc   func(ctx context.Context, uri string) ([]byte, error)
}

func (m *MockTextExtractor) Decode(ctx context.Context, rawB64, contentType string) (string, error) {
	if m.DecodeFunc != nil {
		return m.DecodeFunc(ctx, rawB64, contentType)
	}
	return "", nil
}

func (m *MockTextExtractor) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, data, contentType)
	}
	return string(data), nil
}

func (m *MockTextExtractor) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, uri)
	}
	return nil, errors.New("not found")
}

// MockTransactionExtractor is a mock implementation of TransactionExtractor.
type MockTransactionExtractor struct {
	ExtractFunc func(ctx context.Context, text, documentType string, hints []string) ([]*domain.Transaction, error)
	Calls       int
}

func (m *MockTransactionExtractor) ExtractTransactions(ctx context.Context, text, documentType string, hints []string) ([]*domain.Transaction, error) {
	m.Calls++
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, text, documentType, hints)
	}
	return nil, nil
}

// MockCategorizer is a mock implementation of Categorizer.
type MockCategorizer struct {
	CategorizeManyFunc func(ctx context.Context, txs []*domain.Transaction) ([]*domain.Transaction, error)
	Calls              int
}

func (m *MockCategorizer) CategorizeMany(ctx context.Context, txs []*domain.Transaction) ([]*domain.Transaction, error) {
	m.Calls++
	if m.CategorizeManyFunc != nil {
		return m.CategorizeManyFunc(ctx, txs)
	}
	return txs, nil
}

func mustTx(t *testing.T, desc string, amount string, categories ...string) *domain.Transaction {
	t.Helper()
	tx, err := domain.NewTransaction(domain.Transaction{
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Type:        domain.TransactionTypeDebit,
		Categories:  categories,
	})
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}
	return tx
}

func testDocument() domain.Document {
	return domain.Document{
		ID:           42,
		ExternalID:   uuid.New(),
		UserID:       7,
		DocumentType: DocumentTypeBankStatement,
		ContentType:  "text/plain",
		RawContent:   "UEFHQU1FTlRPIExVWiAtMTIwLDAw",
		Status:       domain.DocumentStatusProcessing,
	}
}

func TestProcess_EmptyContent(t *testing.T) {
	tests := []struct {
		name string
		doc  func() domain.Document
		text string
	}{
		{
			name: "no content at all",
			doc: func() domain.Document {
				d := testDocument()
				d.RawContent = ""
				return d
			},
		},
		{
			name: "whitespace only text",
			doc:  testDocument,
			text: "  \n\t ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := &MockTransactionExtractor{}
			cat := &MockCategorizer{}
			text := &MockTextExtractor{
				DecodeFunc: func(ctx context.Context, rawB64, contentType string) (string, error) {
					return tt.text, nil
				},
			}
			p := NewProcessor(DefaultParsers(ai), text, cat)

			txs, err := p.Process(context.Background(), tt.doc())
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if txs == nil || len(txs) != 0 {
				t.Errorf("Process() = %v, want empty non-nil slice", txs)
			}
			if ai.Calls != 0 {
				t.Errorf("extractor called %d times, want 0", ai.Calls)
			}
			if cat.Calls != 0 {
				t.Errorf("categorizer called %d times, want 0", cat.Calls)
			}
		})
	}
}

func TestProcess_UnsupportedDocumentType(t *testing.T) {
	ai := &MockTransactionExtractor{}
	p := NewProcessor(DefaultParsers(ai), &MockTextExtractor{}, nil)

	doc := testDocument()
	doc.DocumentType = "payslip"

	_, err := p.Process(context.Background(), doc)
	if !errors.Is(err, ErrUnsupportedDocumentType) {
		t.Fatalf("Process() error = %v, want ErrUnsupportedDocumentType", err)
	}
	var typed *UnsupportedDocumentTypeError
	if !errors.As(err, &typed) || typed.DocumentType != "payslip" {
		t.Errorf("expected *UnsupportedDocumentTypeError for payslip, got %v", err)
	}
	if ai.Calls != 0 {
		t.Error("extractor must not be called for unsupported types")
	}
}

func TestProcess_StampsIdsAndCategorizes(t *testing.T) {
	var gotText, gotType string
	var gotHints []string
	ai := &MockTransactionExtractor{
		ExtractFunc: func(ctx context.Context, text, documentType string, hints []string) ([]*domain.Transaction, error) {
			gotText, gotType, gotHints = text, documentType, hints
			return []*domain.Transaction{
				mustTx(t, "PAGAMENTO LUZ", "-120.00"),
				mustTx(t, "MERCADO", "-55.10", "mercado"),
			}, nil
		},
	}
	cat := &MockCategorizer{
		CategorizeManyFunc: func(ctx context.Context, txs []*domain.Transaction) ([]*domain.Transaction, error) {
			for _, tx := range txs {
				if !tx.HasCategories() {
					tx.SetCategorization([]string{"luz"}, 0.9)
				}
			}
			return txs, nil
		},
	}
	text := &MockTextExtractor{
		DecodeFunc: func(ctx context.Context, rawB64, contentType string) (string, error) {
			return "PAGAMENTO LUZ -120,00", nil
		},
	}

	doc := testDocument()
	doc.HintCategories = []string{"luz", "mercado"}
	p := NewProcessor(DefaultParsers(ai), text, cat)

	txs, err := p.Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}
	if gotText != "PAGAMENTO LUZ -120,00" || gotType != DocumentTypeBankStatement {
		t.Errorf("extractor got text=%q type=%q", gotText, gotType)
	}
	if len(gotHints) != 2 {
		t.Errorf("extractor hints = %v, want document hints", gotHints)
	}
	for i, tx := range txs {
		if tx.DocumentID != 42 || tx.UserID != 7 {
			t.Errorf("transaction %q has document_id=%d user_id=%d", tx.Description, tx.DocumentID, tx.UserID)
		}
		if want := domain.DocumentTransactionID(42, i); tx.ID != want {
			t.Errorf("transaction %d id = %s, want %s", i, tx.ID, want)
		}
	}
	if cat.Calls != 1 {
		t.Errorf("categorizer called %d times, want 1", cat.Calls)
	}
	if txs[0].Categories[0] != "luz" {
		t.Errorf("first transaction categories = %v", txs[0].Categories)
	}
}

func TestProcess_SameDocumentSameIDs(t *testing.T) {
	ai := &MockTransactionExtractor{
		ExtractFunc: func(ctx context.Context, text, documentType string, hints []string) ([]*domain.Transaction, error) {
			return []*domain.Transaction{
				mustTx(t, "PAGAMENTO LUZ", "-120.00", "luz"),
				mustTx(t, "MERCADO", "-55.10", "mercado"),
			}, nil
		},
	}
	text := &MockTextExtractor{
		DecodeFunc: func(ctx context.Context, rawB64, contentType string) (string, error) {
			return "PAGAMENTO LUZ -120,00", nil
		},
	}
	p := NewProcessor(DefaultParsers(ai), text, nil)

	first, err := p.Process(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	second, err := p.Process(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("transaction %d id changed between runs: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
	if first[0].ID == first[1].ID {
		t.Error("transactions of one document share an id")
	}
}

func TestProcess_SkipsCategorizerWhenAllCategorized(t *testing.T) {
	ai := &MockTransactionExtractor{
		ExtractFunc: func(ctx context.Context, text, documentType string, hints []string) ([]*domain.Transaction, error) {
			return []*domain.Transaction{mustTx(t, "MERCADO", "-55.10", "mercado")}, nil
		},
	}
	cat := &MockCategorizer{}
	text := &MockTextExtractor{
		DecodeFunc: func(ctx context.Context, rawB64, contentType string) (string, error) {
			return "MERCADO -55,10", nil
		},
	}

	txs, err := NewProcessor(DefaultParsers(ai), text, cat).Process(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(txs) != 1 || cat.Calls != 0 {
		t.Errorf("got %d transactions, categorizer calls %d; want 1 and 0", len(txs), cat.Calls)
	}
}

func TestProcess_ContentURI(t *testing.T) {
	var fetched string
	text := &MockTextExtractor{
		FetchFunc: func(ctx context.Context, uri string) ([]byte, error) {
			fetched = uri
			return []byte("PIX RECEBIDO 300,00"), nil
		},
		DecodeFunc: func(ctx context.Context, rawB64, contentType string) (string, error) {
			t.Error("Decode must not be called without inline content")
			return "", nil
		},
	}
	ai := &MockTransactionExtractor{
		ExtractFunc: func(ctx context.Context, text, documentType string, hints []string) ([]*domain.Transaction, error) {
			return []*domain.Transaction{mustTx(t, text, "300.00", "pix")}, nil
		},
	}

	doc := testDocument()
	doc.RawContent = ""
	doc.ContentURI = "gs://statements/42.txt"

	txs, err := NewProcessor(DefaultParsers(ai), text, nil).Process(context.Background(), doc)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if fetched != doc.ContentURI {
		t.Errorf("fetched %q, want %q", fetched, doc.ContentURI)
	}
	if len(txs) != 1 || txs[0].Description != "PIX RECEBIDO 300,00" {
		t.Errorf("unexpected transactions %v", txs)
	}
}

func TestProcess_Errors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name string
		text *MockTextExtractor
		ai   *MockTransactionExtractor
		cat  *MockCategorizer
	}{
		{
			name: "decode failure",
			text: &MockTextExtractor{
				DecodeFunc: func(ctx context.Context, rawB64, contentType string) (string, error) { return "", boom },
			},
			ai: &MockTransactionExtractor{},
		},
		{
			name: "extraction failure",
			text: &MockTextExtractor{
				DecodeFunc: func(ctx context.Context, rawB64, contentType string) (string, error) { return "text", nil },
			},
			ai: &MockTransactionExtractor{
				ExtractFunc: func(ctx context.Context, text, documentType string, hints []string) ([]*domain.Transaction, error) {
					return nil, boom
				},
			},
		},
		{
			name: "categorization failure",
			text: &MockTextExtractor{
				DecodeFunc: func(ctx context.Context, rawB64, contentType string) (string, error) { return "text", nil },
			},
			ai: &MockTransactionExtractor{
				ExtractFunc: func(ctx context.Context, text, documentType string, hints []string) ([]*domain.Transaction, error) {
					return []*domain.Transaction{mustTx(t, "X", "-1")}, nil
				},
			},
			cat: &MockCategorizer{
				CategorizeManyFunc: func(ctx context.Context, txs []*domain.Transaction) ([]*domain.Transaction, error) {
					return nil, boom
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cat Categorizer
			if tt.cat != nil {
				cat = tt.cat
			}
			txs, err := NewProcessor(DefaultParsers(tt.ai), tt.text, cat).Process(context.Background(), testDocument())
			if !errors.Is(err, boom) {
				t.Fatalf("Process() error = %v, want wrapped boom", err)
			}
			if txs != nil {
				t.Errorf("Process() = %v, want nil on error", txs)
			}
		})
	}
}
