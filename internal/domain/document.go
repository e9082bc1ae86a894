package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the processing state of a document.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusProcessed  DocumentStatus = "processed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentStatusPending, DocumentStatusProcessing, DocumentStatusProcessed, DocumentStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected from s.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentStatusProcessed || s == DocumentStatusFailed
}

// Document is a financial document received for processing.
// RawContent holds the file bytes encoded as standard base64. When the
// producer stores the file out of band, ContentURI points at it instead
// (e.g. "gs://bucket/statements/2024-01.pdf").
type Document struct {
	ID             int64          `json:"id"`
	ExternalID     uuid.UUID      `json:"external_id"`
	UserID         int64          `json:"user_id"`
	DocumentType   string         `json:"document_type"`
	Filename       string         `json:"filename"`
	ContentType    string         `json:"content_type"`
	RawContent     string         `json:"file_content,omitempty"`
	ContentURI     string         `json:"content_uri,omitempty"`
	HintCategories []string       `json:"categories,omitempty"`
	Status         DocumentStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// WithStatus returns a copy of d in the given status, stamped with now as
// its update time.
func (d Document) WithStatus(status DocumentStatus, now time.Time) Document {
	d.Status = status
	d.UpdatedAt = now
	return d
}
