// Package handlers implements the read API over stored documents and
// transactions.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-doc-processor/internal/api/middleware"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/store"
)

// MaxPageSize caps the limit query parameter.
const MaxPageSize = 1000

// Reader is the read side of store.Store.
type Reader interface {
	GetDocument(ctx context.Context, id int64) (domain.Document, error)
	GetTransactionsByDocument(ctx context.Context, documentID int64) ([]*domain.Transaction, error)
	GetTransactionsByUser(ctx context.Context, userID int64, limit, offset int) ([]*domain.Transaction, error)
}

var _ Reader = (store.Store)(nil)

// DocumentsHandler handles document-related endpoints.
type DocumentsHandler struct {
	repo Reader
	log  zerolog.Logger
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(repo Reader, log zerolog.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		repo: repo,
		log:  log,
	}
}

// GetDocument handles GET /api/documents/{id}. The file content is left out
// of the response.
func (h *DocumentsHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	doc, err := h.repo.GetDocument(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err, id, "Failed to get document")
		return
	}

	doc.RawContent = ""
	middleware.WriteJSON(w, http.StatusOK, doc)
}

// ListTransactions handles GET /api/documents/{id}/transactions
func (h *DocumentsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if _, err := h.repo.GetDocument(ctx, id); err != nil {
		h.writeLookupError(w, err, id, "Failed to get document")
		return
	}

	transactions, err := h.repo.GetTransactionsByDocument(ctx, id)
	if err != nil {
		h.log.Error().Err(err).Int64("document_id", id).Msg("Failed to list document transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	if transactions == nil {
		transactions = []*domain.Transaction{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"document_id":  id,
		"transactions": transactions,
		"count":        len(transactions),
	})
}

func (h *DocumentsHandler) writeLookupError(w http.ResponseWriter, err error, id int64, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Document not found")
		return
	}
	h.log.Error().Err(err).Int64("document_id", id).Msg(msg)
	middleware.WriteError(w, http.StatusInternalServerError, msg)
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	repo Reader
	log  zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(repo Reader, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		repo: repo,
		log:  log,
	}
}

// ListUserTransactions handles GET /api/users/{id}/transactions?limit=&offset=
func (h *TransactionsHandler) ListUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit, err := intParam(query.Get("limit"), store.DefaultPageSize)
	if err != nil || limit < 1 {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	offset, err := intParam(query.Get("offset"), 0)
	if err != nil || offset < 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	transactions, err := h.repo.GetTransactionsByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("Failed to list user transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	if transactions == nil {
		transactions = []*domain.Transaction{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      userID,
		"transactions": transactions,
		"count":        len(transactions),
		"limit":        limit,
		"offset":       offset,
	})
}

// Health handles GET /healthz
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// pathID parses the {id} path value, writing a 400 when it is not a
// positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
