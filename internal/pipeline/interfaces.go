package pipeline

import (
	"context"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

// TextExtractor turns document content into text.
type TextExtractor interface {
	// Decode decodes base64 content and extracts its text.
	Decode(ctx context.Context, rawB64, contentType string) (string, error)
	// Extract extracts the text of raw bytes.
	Extract(ctx context.Context, data []byte, contentType string) (string, error)
	// Fetch loads bytes stored out of band, e.g. gs://bucket/file.pdf.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// TransactionExtractor asks an AI model for the transactions in a text.
type TransactionExtractor interface {
	ExtractTransactions(ctx context.Context, text, documentType string, hintCategories []string) ([]*domain.Transaction, error)
}

// Categorizer assigns categories to transactions in place.
type Categorizer interface {
	CategorizeMany(ctx context.Context, txs []*domain.Transaction) ([]*domain.Transaction, error)
}

// Parser extracts the transactions of one document type from its text.
type Parser interface {
	Parse(ctx context.Context, text string, hintCategories []string) ([]*domain.Transaction, error)
}
