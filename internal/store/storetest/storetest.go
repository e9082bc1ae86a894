// Package storetest holds behaviour tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Run exercises s against the store.Store contract. newStore must return
// an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("document round trip", func(t *testing.T) { testDocumentRoundTrip(t, newStore(t)) })
	t.Run("document upsert", func(t *testing.T) { testDocumentUpsert(t, newStore(t)) })
	t.Run("status update", func(t *testing.T) { testStatusUpdate(t, newStore(t)) })
	t.Run("not found", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("transactions by document", func(t *testing.T) { testTransactionsByDocument(t, newStore(t)) })
	t.Run("transactions upsert", func(t *testing.T) { testTransactionsUpsert(t, newStore(t)) })
	t.Run("transactions by user paging", func(t *testing.T) { testTransactionsByUser(t, newStore(t)) })
	t.Run("delete transactions by document", func(t *testing.T) { testDeleteTransactionsByDocument(t, newStore(t)) })
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Document returns a valid document with the given id.
func Document(id, userID int64) domain.Document {
	return domain.Document{
		ID:             id,
		ExternalID:     uuid.New(),
		UserID:         userID,
		DocumentType:   "bank_statement",
		Filename:       "extrato.txt",
		ContentType:    "text/plain",
		RawContent:     "UEFHQU1FTlRP",
		HintCategories: []string{"luz"},
		Status:         domain.DocumentStatusProcessing,
		CreatedAt:      base,
		UpdatedAt:      base,
	}
}

// Transaction returns a valid transaction dated base plus day days.
func Transaction(t *testing.T, documentID, userID int64, day int, desc string) *domain.Transaction {
	t.Helper()
	tx, err := domain.NewTransaction(domain.Transaction{
		DocumentID:  documentID,
		UserID:      userID,
		Date:        base.AddDate(0, 0, day),
		Description: desc,
		Amount:      decimal.RequireFromString("-120.55"),
		Type:        domain.TransactionTypeDebit,
		Method:      domain.MethodPix,
		Categories:  []string{"luz", "utilidades"},
		CreatedAt:   base,
	})
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}
	score := 0.9
	tx.ConfidenceScore = &score
	return tx
}

func testDocumentRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	doc := Document(42, 7)
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}

	got, err := s.GetDocument(ctx, 42)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.ExternalID != doc.ExternalID || got.UserID != 7 || got.DocumentType != doc.DocumentType {
		t.Errorf("GetDocument() = %+v, want %+v", got, doc)
	}
	if got.RawContent != doc.RawContent || got.Status != domain.DocumentStatusProcessing {
		t.Errorf("content/status not persisted: %+v", got)
	}
	if len(got.HintCategories) != 1 || got.HintCategories[0] != "luz" {
		t.Errorf("HintCategories = %v", got.HintCategories)
	}
	if !got.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, doc.CreatedAt)
	}
}

func testDocumentUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	doc := Document(1, 7)
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}
	doc.Filename = "renamed.txt"
	doc.Status = domain.DocumentStatusFailed
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("second SaveDocument failed: %v", err)
	}

	got, err := s.GetDocument(ctx, 1)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.Filename != "renamed.txt" || got.Status != domain.DocumentStatusFailed {
		t.Errorf("upsert not applied: %+v", got)
	}
}

func testStatusUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.SaveDocument(ctx, Document(5, 7)); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}
	if err := s.UpdateDocumentStatus(ctx, 5, domain.DocumentStatusProcessed); err != nil {
		t.Fatalf("UpdateDocumentStatus failed: %v", err)
	}

	got, err := s.GetDocument(ctx, 5)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.Status != domain.DocumentStatusProcessed {
		t.Errorf("Status = %s, want processed", got.Status)
	}
	if !got.UpdatedAt.After(base) {
		t.Errorf("UpdatedAt = %v, want later than %v", got.UpdatedAt, base)
	}

	if err := s.UpdateDocumentStatus(ctx, 5, "archived"); err == nil {
		t.Error("UpdateDocumentStatus() with invalid status expected error")
	}
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.GetDocument(ctx, 404); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetDocument() error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateDocumentStatus(ctx, 404, domain.DocumentStatusFailed); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateDocumentStatus() error = %v, want ErrNotFound", err)
	}
	txs, err := s.GetTransactionsByDocument(ctx, 404)
	if err != nil || txs == nil || len(txs) != 0 {
		t.Errorf("GetTransactionsByDocument() = %v, %v; want empty slice", txs, err)
	}
}

func testTransactionsByDocument(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		if err := s.SaveDocument(ctx, Document(id, 7)); err != nil {
			t.Fatalf("SaveDocument failed: %v", err)
		}
	}

	late := Transaction(t, 1, 7, 5, "ALUGUEL")
	early := Transaction(t, 1, 7, 1, "CONTA DE LUZ")
	other := Transaction(t, 2, 7, 3, "MERCADO")
	if err := s.SaveTransactions(ctx, []*domain.Transaction{late, early, other}); err != nil {
		t.Fatalf("SaveTransactions failed: %v", err)
	}
	if err := s.SaveTransactions(ctx, nil); err != nil {
		t.Fatalf("SaveTransactions(nil) failed: %v", err)
	}

	got, err := s.GetTransactionsByDocument(ctx, 1)
	if err != nil {
		t.Fatalf("GetTransactionsByDocument failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d transactions, want 2", len(got))
	}
	if got[0].ID != early.ID || got[1].ID != late.ID {
		t.Errorf("order = [%s %s], want oldest first", got[0].Description, got[1].Description)
	}

	tx := got[0]
	if !tx.Amount.Equal(early.Amount) || tx.Type != domain.TransactionTypeDebit || tx.Method != domain.MethodPix {
		t.Errorf("fields not persisted: %+v", tx)
	}
	if !tx.Date.Equal(early.Date) || tx.DocumentID != 1 || tx.UserID != 7 {
		t.Errorf("date/ids not persisted: %+v", tx)
	}
	if len(tx.Categories) != 2 || tx.Categories[0] != "luz" {
		t.Errorf("Categories = %v", tx.Categories)
	}
	if tx.ConfidenceScore == nil || *tx.ConfidenceScore != 0.9 {
		t.Errorf("ConfidenceScore = %v", tx.ConfidenceScore)
	}
}

func testTransactionsUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.SaveDocument(ctx, Document(1, 7)); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}

	tx := Transaction(t, 1, 7, 0, "PIX")
	tx.ConfidenceScore = nil
	if err := s.SaveTransactions(ctx, []*domain.Transaction{tx}); err != nil {
		t.Fatalf("SaveTransactions failed: %v", err)
	}
	tx.SetCategorization([]string{"transferência"}, 0.85)
	if err := s.SaveTransactions(ctx, []*domain.Transaction{tx}); err != nil {
		t.Fatalf("second SaveTransactions failed: %v", err)
	}

	got, err := s.GetTransactionsByDocument(ctx, 1)
	if err != nil {
		t.Fatalf("GetTransactionsByDocument failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d transactions, want 1 after upsert", len(got))
	}
	if got[0].Categories[0] != "transferência" || got[0].Confidence() != 0.85 {
		t.Errorf("upsert not applied: %+v", got[0])
	}
}

func testDeleteTransactionsByDocument(t *testing.T, s store.Store) {
	ctx := context.Background()
	txs := []*domain.Transaction{
		Transaction(t, 1, 7, 0, "LUZ"),
		Transaction(t, 1, 7, 1, "AGUA"),
		Transaction(t, 2, 7, 0, "GAS"),
	}
	if err := s.SaveTransactions(ctx, txs); err != nil {
		t.Fatalf("SaveTransactions failed: %v", err)
	}

	if err := s.DeleteTransactionsByDocument(ctx, 1); err != nil {
		t.Fatalf("DeleteTransactionsByDocument failed: %v", err)
	}
	got, err := s.GetTransactionsByDocument(ctx, 1)
	if err != nil {
		t.Fatalf("GetTransactionsByDocument failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("document 1 has %d transactions after delete, want 0", len(got))
	}
	other, err := s.GetTransactionsByDocument(ctx, 2)
	if err != nil {
		t.Fatalf("GetTransactionsByDocument failed: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("document 2 has %d transactions, want 1", len(other))
	}

	if err := s.DeleteTransactionsByDocument(ctx, 99); err != nil {
		t.Errorf("DeleteTransactionsByDocument on empty document error = %v", err)
	}
}

func testTransactionsByUser(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.SaveDocument(ctx, Document(1, 7)); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}
	if err := s.SaveDocument(ctx, Document(2, 8)); err != nil {
		t.Fatalf("SaveDocument failed: %v", err)
	}

	var txs []*domain.Transaction
	for day := 0; day < 5; day++ {
		txs = append(txs, Transaction(t, 1, 7, day, "MERCADO"))
	}
	txs = append(txs, Transaction(t, 2, 8, 10, "OUTRO USUARIO"))
	if err := s.SaveTransactions(ctx, txs); err != nil {
		t.Fatalf("SaveTransactions failed: %v", err)
	}

	tests := []struct {
		name     string
		limit    int
		offset   int
		wantDays []int
	}{
		{"default page", 0, 0, []int{4, 3, 2, 1, 0}},
		{"first page", 2, 0, []int{4, 3}},
		{"second page", 2, 2, []int{2, 1}},
		{"past the end", 2, 10, nil},
		{"negative offset", 1, -3, []int{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetTransactionsByUser(ctx, 7, tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("GetTransactionsByUser failed: %v", err)
			}
			if got == nil {
				t.Fatal("GetTransactionsByUser() returned nil slice")
			}
			if len(got) != len(tt.wantDays) {
				t.Fatalf("got %d transactions, want %d", len(got), len(tt.wantDays))
			}
			for i, day := range tt.wantDays {
				if !got[i].Date.Equal(base.AddDate(0, 0, day)) {
					t.Errorf("got[%d].Date = %v, want day %d", i, got[i].Date, day)
				}
				if got[i].UserID != 7 {
					t.Errorf("got[%d] belongs to user %d", i, got[i].UserID)
				}
			}
		})
	}
}
