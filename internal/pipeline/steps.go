package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

// PipelineStep represents a single step of document processing.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Document     domain.Document
	Parser       Parser
	Text         string
	Transactions []*domain.Transaction
	// Done stops the remaining steps without an error.
	Done bool
}

// SelectParserStep looks up the parser for the document type.
type SelectParserStep struct {
	Parsers map[string]Parser
}

func (s *SelectParserStep) Execute(_ context.Context, state *PipelineState) error {
	parser, ok := s.Parsers[state.Document.DocumentType]
	if !ok {
		return &UnsupportedDocumentTypeError{DocumentType: state.Document.DocumentType}
	}
	state.Parser = parser
	return nil
}

// ExtractTextStep decodes the inline content, or fetches it from
// ContentURI, and extracts its text. Empty text ends processing with no
// transactions.
type ExtractTextStep struct {
	Text TextExtractor
}

func (s *ExtractTextStep) Execute(ctx context.Context, state *PipelineState) error {
	doc := state.Document

	var text string
	var err error
	switch {
	case doc.RawContent != "":
		text, err = s.Text.Decode(ctx, doc.RawContent, doc.ContentType)
	case doc.ContentURI != "":
		var data []byte
		data, err = s.Text.Fetch(ctx, doc.ContentURI)
		if err == nil {
			text, err = s.Text.Extract(ctx, data, doc.ContentType)
		}
	}
	if err != nil {
		return fmt.Errorf("ExtractTextStep: %w", err)
	}

	if strings.TrimSpace(text) == "" {
		state.Done = true
		return nil
	}
	state.Text = text
	return nil
}

// ParseStep runs the selected parser and stamps document and user ids on
// every transaction. Transaction ids are derived from the document id and
// the position in the parser output.
type ParseStep struct{}

func (s *ParseStep) Execute(ctx context.Context, state *PipelineState) error {
	txs, err := state.Parser.Parse(ctx, state.Text, state.Document.HintCategories)
	if err != nil {
		return fmt.Errorf("ParseStep: %w", err)
	}
	for i, tx := range txs {
		tx.ID = domain.DocumentTransactionID(state.Document.ID, i)
		tx.DocumentID = state.Document.ID
		tx.UserID = state.Document.UserID
	}
	state.Transactions = txs
	return nil
}

// CategorizeStep sends the transactions through the categorizer when any
// of them lacks categories.
type CategorizeStep struct {
	Categorizer Categorizer
}

func (s *CategorizeStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Categorizer == nil || !needsCategorization(state.Transactions) {
		return nil
	}
	txs, err := s.Categorizer.CategorizeMany(ctx, state.Transactions)
	if err != nil {
		return fmt.Errorf("CategorizeStep: %w", err)
	}
	state.Transactions = txs
	return nil
}

func needsCategorization(txs []*domain.Transaction) bool {
	for _, tx := range txs {
		if !tx.HasCategories() {
			return true
		}
	}
	return false
}
