package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/google/uuid"
)

// ErrMalformedMessage matches any MalformedMessageError.
var ErrMalformedMessage = errors.New("malformed message")

// MalformedMessageError reports an inbound payload that cannot be turned
// into a document.
type MalformedMessageError struct {
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

func (e *MalformedMessageError) Is(target error) bool {
	return target == ErrMalformedMessage
}

func malformed(reason string, err error) error {
	return &MalformedMessageError{Reason: reason, Err: err}
}

// inboundDocument mirrors the producer's JSON. Pointers tell absent fields
// from zero values.
type inboundDocument struct {
	ID           *int64   `json:"id"`
	ExternalID   *string  `json:"external_id"`
	UserID       *int64   `json:"user_id"`
	DocumentType *string  `json:"document_type"`
	Filename     *string  `json:"filename"`
	ContentType  *string  `json:"content_type"`
	FileContent  *string  `json:"file_content"`
	ContentURI   string   `json:"content_uri"`
	Categories   []string `json:"categories"`
	Status       string   `json:"status"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// timestampLayouts are tried in order. Layouts without a zone are read as
// UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// DecodeDocument builds a Document from an inbound payload. The status is
// always forced to processing and timestamps are normalized to UTC. Missing
// timestamps default to now.
func DecodeDocument(payload []byte, now time.Time) (domain.Document, error) {
	var in inboundDocument
	if err := json.Unmarshal(payload, &in); err != nil {
		return domain.Document{}, malformed("invalid JSON", err)
	}

	var missing []string
	if in.ID == nil {
		missing = append(missing, "id")
	}
	if in.ExternalID == nil {
		missing = append(missing, "external_id")
	}
	if in.UserID == nil {
		missing = append(missing, "user_id")
	}
	if in.DocumentType == nil || strings.TrimSpace(*in.DocumentType) == "" {
		missing = append(missing, "document_type")
	}
	if in.Filename == nil {
		missing = append(missing, "filename")
	}
	if in.ContentType == nil {
		missing = append(missing, "content_type")
	}
	if in.FileContent == nil && in.ContentURI == "" {
		missing = append(missing, "file_content")
	}
	if len(missing) > 0 {
		return domain.Document{}, malformed("missing fields: "+strings.Join(missing, ", "), nil)
	}

	externalID, err := uuid.Parse(*in.ExternalID)
	if err != nil {
		return domain.Document{}, malformed("invalid external_id", err)
	}

	createdAt, err := normalizeTimestamp(in.CreatedAt, now)
	if err != nil {
		return domain.Document{}, malformed("invalid created_at", err)
	}
	updatedAt, err := normalizeTimestamp(in.UpdatedAt, now)
	if err != nil {
		return domain.Document{}, malformed("invalid updated_at", err)
	}

	doc := domain.Document{
		ID:             *in.ID,
		ExternalID:     externalID,
		UserID:         *in.UserID,
		DocumentType:   strings.TrimSpace(*in.DocumentType),
		Filename:       *in.Filename,
		ContentType:    *in.ContentType,
		ContentURI:     in.ContentURI,
		HintCategories: in.Categories,
		Status:         domain.DocumentStatusProcessing,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	if in.FileContent != nil {
		doc.RawContent = *in.FileContent
	}
	return doc, nil
}

func normalizeTimestamp(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
