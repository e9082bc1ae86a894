// Package api assembles the read-only HTTP API over the persistence store.
package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-doc-processor/internal/api/handlers"
	"github.com/dvloznov/finance-doc-processor/internal/api/middleware"
)

// NewRouter returns the API handler with middleware applied.
func NewRouter(repo handlers.Reader, log zerolog.Logger) http.Handler {
	documents := handlers.NewDocumentsHandler(repo, log)
	transactions := handlers.NewTransactionsHandler(repo, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/documents/{id}", documents.GetDocument)
	mux.HandleFunc("GET /api/documents/{id}/transactions", documents.ListTransactions)
	mux.HandleFunc("GET /api/users/{id}/transactions", transactions.ListUserTransactions)
	mux.HandleFunc("GET /healthz", handlers.Health)

	return middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
	)
}
