// Package store defines persistence of documents and their transactions.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// DefaultPageSize is used when a listing is requested with limit <= 0.
const DefaultPageSize = 100

// Store persists documents and transactions. Saves are upserts by id.
// Reprocessing a document replaces its transactions: callers delete them
// with DeleteTransactionsByDocument before saving the new set.
type Store interface {
	// SaveDocument inserts doc or replaces the stored document with its id.
	SaveDocument(ctx context.Context, doc domain.Document) error

	// GetDocument returns ErrNotFound for unknown ids.
	GetDocument(ctx context.Context, id int64) (domain.Document, error)

	// UpdateDocumentStatus sets the status and update time of a document.
	// It returns ErrNotFound for unknown ids.
	UpdateDocumentStatus(ctx context.Context, id int64, status domain.DocumentStatus) error

	// SaveTransactions upserts txs by transaction id.
	SaveTransactions(ctx context.Context, txs []*domain.Transaction) error

	// DeleteTransactionsByDocument removes every transaction of a document.
	// Deleting from a document without transactions is not an error.
	DeleteTransactionsByDocument(ctx context.Context, documentID int64) error

	// GetTransactionsByDocument lists a document's transactions oldest
	// first.
	GetTransactionsByDocument(ctx context.Context, documentID int64) ([]*domain.Transaction, error)

	// GetTransactionsByUser lists a user's transactions newest first.
	GetTransactionsByUser(ctx context.Context, userID int64, limit, offset int) ([]*domain.Transaction, error)

	// Close releases the underlying connection.
	Close() error
}

// NormalizePage applies DefaultPageSize and clamps a negative offset.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// SortByDate orders txs by date, then creation time, then id. With desc the
// date and creation time comparisons are reversed.
func SortByDate(txs []*domain.Transaction, desc bool) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date) != desc
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt) != desc
		}
		return a.ID.String() < b.ID.String()
	})
}
