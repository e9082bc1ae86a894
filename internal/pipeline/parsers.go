package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

// Document types handled out of the box.
const (
	DocumentTypeBankStatement       = "bank_statement"
	DocumentTypeCreditCardStatement = "credit_card_statement"
)

// ErrUnsupportedDocumentType matches any UnsupportedDocumentTypeError.
var ErrUnsupportedDocumentType = errors.New("unsupported document type")

// UnsupportedDocumentTypeError is returned when no parser is registered for
// a document's type.
type UnsupportedDocumentTypeError struct {
	DocumentType string
}

func (e *UnsupportedDocumentTypeError) Error() string {
	return fmt.Sprintf("unsupported document type: %q", e.DocumentType)
}

func (e *UnsupportedDocumentTypeError) Is(target error) bool {
	return target == ErrUnsupportedDocumentType
}

// AIParser delegates extraction to an AI model. Statement layouts vary too
// much between banks for fixed patterns.
type AIParser struct {
	documentType string
	ai           TransactionExtractor
}

// NewAIParser creates a parser for documentType.
func NewAIParser(documentType string, ai TransactionExtractor) *AIParser {
	return &AIParser{documentType: documentType, ai: ai}
}

func (p *AIParser) Parse(ctx context.Context, text string, hintCategories []string) ([]*domain.Transaction, error) {
	txs, err := p.ai.ExtractTransactions(ctx, text, p.documentType, hintCategories)
	if err != nil {
		return nil, fmt.Errorf("AIParser.Parse(%s): %w", p.documentType, err)
	}
	return txs, nil
}

// DefaultParsers registers the AI parser for every built-in document type.
func DefaultParsers(ai TransactionExtractor) map[string]Parser {
	return map[string]Parser{
		DocumentTypeBankStatement:       NewAIParser(DocumentTypeBankStatement, ai),
		DocumentTypeCreditCardStatement: NewAIParser(DocumentTypeCreditCardStatement, ai),
	}
}
