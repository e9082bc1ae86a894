// Package pipeline turns one document into its categorized transactions.
package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/logger"
)

// Processor runs the processing steps for a document. It does not persist
// anything or change the document status; callers own that.
type Processor struct {
	steps []PipelineStep
}

// NewProcessor wires the steps. categorizer may be nil to keep whatever
// categories the extractor produced.
func NewProcessor(parsers map[string]Parser, text TextExtractor, categorizer Categorizer) *Processor {
	return &Processor{
		steps: []PipelineStep{
			&SelectParserStep{Parsers: parsers},
			&ExtractTextStep{Text: text},
			&ParseStep{},
			&CategorizeStep{Categorizer: categorizer},
		},
	}
}

// Process returns the transactions of doc. Empty content yields an empty
// list. An unknown document type fails with *UnsupportedDocumentTypeError;
// extraction and AI failures are returned as is.
func (p *Processor) Process(ctx context.Context, doc domain.Document) ([]*domain.Transaction, error) {
	log := logger.FromContext(ctx).With().
		Int64("document_id", doc.ID).
		Str("document_type", doc.DocumentType).
		Logger()

	start := time.Now()
	state := &PipelineState{Document: doc}
	for _, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			log.Error().Err(err).Msg("Document processing failed")
			return nil, err
		}
		if state.Done {
			break
		}
	}

	if state.Transactions == nil {
		state.Transactions = []*domain.Transaction{}
	}
	log.Info().
		Int("transactions", len(state.Transactions)).
		Dur("duration", time.Since(start)).
		Msg("Document processed")

	return state.Transactions, nil
}
