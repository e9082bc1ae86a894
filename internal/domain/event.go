package domain

import (
	"strconv"
	"time"
)

// ResultEvent is published once per processed document, success or failure.
type ResultEvent struct {
	DocumentID       int64          `json:"document_id"`
	ExternalID       string         `json:"external_id"`
	UserID           int64          `json:"user_id"`
	Status           DocumentStatus `json:"status"`
	TransactionCount int            `json:"transaction_count"`
	ProcessedAt      time.Time      `json:"processed_at"`
	Error            string         `json:"error,omitempty"`
	Message          string         `json:"message,omitempty"`
}

// NewResultEvent builds the outbound event for doc.
func NewResultEvent(doc Document, status DocumentStatus, count int, processedAt time.Time) ResultEvent {
	return ResultEvent{
		DocumentID:       doc.ID,
		ExternalID:       doc.ExternalID.String(),
		UserID:           doc.UserID,
		Status:           status,
		TransactionCount: count,
		ProcessedAt:      processedAt.UTC(),
	}
}

// Key is the partitioning key used when publishing the event.
func (e ResultEvent) Key() string {
	return strconv.FormatInt(e.DocumentID, 10)
}
