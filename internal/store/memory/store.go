// Package memory provides an in-memory Store. Data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/store"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of store.Store. It is safe for
// concurrent use.
type Store struct {
	mu           sync.RWMutex
	documents    map[int64]domain.Document
	transactions map[uuid.UUID]*domain.Transaction
	now          func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		documents:    make(map[int64]domain.Document),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		now:          time.Now,
	}
}

// SaveDocument implements store.Store.
func (s *Store) SaveDocument(ctx context.Context, doc domain.Document) error {
	if doc.ID == 0 {
		return fmt.Errorf("SaveDocument: document ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents[doc.ID] = copyDocument(doc)
	return nil
}

// GetDocument implements store.Store.
func (s *Store) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("GetDocument(%d): %w", id, store.ErrNotFound)
	}
	return copyDocument(doc), nil
}

// UpdateDocumentStatus implements store.Store.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status domain.DocumentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("UpdateDocumentStatus: invalid status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return fmt.Errorf("UpdateDocumentStatus(%d): %w", id, store.ErrNotFound)
	}
	s.documents[id] = doc.WithStatus(status, s.now().UTC())
	return nil
}

// SaveTransactions implements store.Store.
func (s *Store) SaveTransactions(ctx context.Context, txs []*domain.Transaction) error {
	for _, tx := range txs {
		if tx.ID == uuid.Nil {
			return fmt.Errorf("SaveTransactions: transaction ID is required")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		s.transactions[tx.ID] = copyTransaction(tx)
	}
	return nil
}

// DeleteTransactionsByDocument implements store.Store.
func (s *Store) DeleteTransactionsByDocument(ctx context.Context, documentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, tx := range s.transactions {
		if tx.DocumentID == documentID {
			delete(s.transactions, id)
		}
	}
	return nil
}

// GetTransactionsByDocument implements store.Store.
func (s *Store) GetTransactionsByDocument(ctx context.Context, documentID int64) ([]*domain.Transaction, error) {
	return s.filter(func(tx *domain.Transaction) bool { return tx.DocumentID == documentID }, false, 0, 0), nil
}

// GetTransactionsByUser implements store.Store.
func (s *Store) GetTransactionsByUser(ctx context.Context, userID int64, limit, offset int) ([]*domain.Transaction, error) {
	limit, offset = store.NormalizePage(limit, offset)
	return s.filter(func(tx *domain.Transaction) bool { return tx.UserID == userID }, true, limit, offset), nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) filter(match func(*domain.Transaction) bool, desc bool, limit, offset int) []*domain.Transaction {
	s.mu.RLock()
	result := []*domain.Transaction{}
	for _, tx := range s.transactions {
		if match(tx) {
			result = append(result, copyTransaction(tx))
		}
	}
	s.mu.RUnlock()

	store.SortByDate(result, desc)

	if limit > 0 {
		if offset >= len(result) {
			return []*domain.Transaction{}
		}
		end := offset + limit
		if end > len(result) {
			end = len(result)
		}
		result = result[offset:end]
	}
	return result
}

func copyDocument(doc domain.Document) domain.Document {
	if doc.HintCategories != nil {
		doc.HintCategories = append([]string(nil), doc.HintCategories...)
	}
	return doc
}

func copyTransaction(tx *domain.Transaction) *domain.Transaction {
	c := *tx
	c.Categories = append([]string{}, tx.Categories...)
	if tx.ConfidenceScore != nil {
		score := *tx.ConfidenceScore
		c.ConfidenceScore = &score
	}
	return &c
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
