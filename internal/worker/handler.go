// Package worker handles one inbound document end to end: it persists the
// document, runs the processing pipeline, records the terminal status and
// publishes exactly one result event.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-doc-processor/internal/bus"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/logger"
	"github.com/dvloznov/finance-doc-processor/internal/notionsync"
	"github.com/dvloznov/finance-doc-processor/internal/store"
)

// NoTransactionsMessage is attached to the event of a document that was
// processed without yielding transactions.
const NoTransactionsMessage = "no transactions found in document"

// Processor extracts the categorized transactions of a document.
type Processor interface {
	Process(ctx context.Context, doc domain.Document) ([]*domain.Transaction, error)
}

// ResultSender publishes the outcome of a document.
type ResultSender interface {
	SendResult(ctx context.Context, event domain.ResultEvent) (bus.Ack, error)
}

// Mirror copies a document's transactions to a secondary system.
type Mirror interface {
	MirrorDocument(ctx context.Context, documentID int64, txs []*domain.Transaction) (notionsync.SyncStats, error)
}

// Handler processes documents delivered by the ingestion loop.
type Handler struct {
	store     store.Store
	processor Processor
	results   ResultSender
	mirror    Mirror
	now       func() time.Time
	log       zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(st store.Store, processor Processor, results ResultSender, log zerolog.Logger) *Handler {
	return &Handler{
		store:     st,
		processor: processor,
		results:   results,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("component", "worker").Logger(),
	}
}

// WithMirror enables mirroring of processed transactions. Mirror failures
// are logged and never change the document outcome.
func (h *Handler) WithMirror(m Mirror) *Handler {
	h.mirror = m
	return h
}

// Handle moves doc through processing -> processed, or to failed when any
// step fails. Both paths publish one result event. The returned error is
// the processing failure, if any.
func (h *Handler) Handle(ctx context.Context, doc domain.Document) error {
	ctx = logger.WithContext(ctx, h.log)
	ctx = logger.WithDocument(ctx, doc.ID, doc.UserID)
	log := logger.FromContext(ctx)

	log.Info().
		Str("document_type", doc.DocumentType).
		Str("filename", doc.Filename).
		Msg("Processing document")

	doc = doc.WithStatus(domain.DocumentStatusProcessing, h.now())
	if err := h.store.SaveDocument(ctx, doc); err != nil {
		return h.fail(ctx, doc, fmt.Errorf("Handle: saving document: %w", err))
	}

	txs, err := h.processor.Process(ctx, doc)
	if err != nil {
		return h.fail(ctx, doc, err)
	}

	// A redelivered or reprocessed document replaces its earlier
	// transactions.
	if err := h.store.DeleteTransactionsByDocument(ctx, doc.ID); err != nil {
		return h.fail(ctx, doc, fmt.Errorf("Handle: clearing previous transactions: %w", err))
	}
	if len(txs) > 0 {
		if err := h.store.SaveTransactions(ctx, txs); err != nil {
			return h.fail(ctx, doc, fmt.Errorf("Handle: saving transactions: %w", err))
		}
	}

	if err := h.store.UpdateDocumentStatus(ctx, doc.ID, domain.DocumentStatusProcessed); err != nil {
		return h.fail(ctx, doc, fmt.Errorf("Handle: updating status: %w", err))
	}

	event := domain.NewResultEvent(doc, domain.DocumentStatusProcessed, len(txs), h.now())
	if len(txs) == 0 {
		log.Warn().Msg("No transactions extracted from document")
		event.Message = NoTransactionsMessage
	}
	if _, err := h.results.SendResult(ctx, event); err != nil {
		return fmt.Errorf("Handle: publishing result: %w", err)
	}

	log.Info().Int("transactions", len(txs)).Msg("Document processed successfully")

	if h.mirror != nil && len(txs) > 0 {
		if _, err := h.mirror.MirrorDocument(ctx, doc.ID, txs); err != nil {
			log.Warn().Err(err).Msg("Failed to mirror transactions")
		}
	}
	return nil
}

// fail records the failed status and publishes the failure event. Errors
// from either step are logged; cause is returned unchanged.
func (h *Handler) fail(ctx context.Context, doc domain.Document, cause error) error {
	log := logger.FromContext(ctx)
	log.Error().Err(cause).Msg("Error processing document")

	if err := h.store.UpdateDocumentStatus(ctx, doc.ID, domain.DocumentStatusFailed); err != nil {
		log.Error().Err(err).Msg("Failed to mark document as failed")
	}

	event := domain.NewResultEvent(doc, domain.DocumentStatusFailed, 0, h.now())
	event.Error = cause.Error()
	if _, err := h.results.SendResult(ctx, event); err != nil {
		log.Error().Err(err).Msg("Failed to publish failure event")
	}
	return cause
}
