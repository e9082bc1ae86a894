package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// amountScale is the number of decimal places kept when reading NUMERIC
// amounts back.
const amountScale = 9

type DocumentRow struct {
	DocumentID   int64  `bigquery:"document_id"`   // REQUIRED
	ExternalID   string `bigquery:"external_id"`   // REQUIRED
	UserID       int64  `bigquery:"user_id"`       // REQUIRED
	DocumentType string `bigquery:"document_type"` // REQUIRED

	OriginalFilename string `bigquery:"original_filename"` // REQUIRED
	FileMimeType     string `bigquery:"file_mime_type"`    // REQUIRED

	FileContent string              `bigquery:"file_content"` // NULLABLE
	GCSURI      bigquery.NullString `bigquery:"gcs_uri"`      // NULLABLE

	Categories []string `bigquery:"categories"` // REPEATED STRING

	ParsingStatus string `bigquery:"parsing_status"` // REQUIRED

	UploadTS  time.Time `bigquery:"upload_ts"`  // REQUIRED
	UpdatedTS time.Time `bigquery:"updated_ts"` // REQUIRED
}

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	UserID     int64 `bigquery:"user_id"`     // REQUIRED
	DocumentID int64 `bigquery:"document_id"` // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Amount *big.Rat `bigquery:"amount"` // REQUIRED NUMERIC

	Direction string              `bigquery:"direction"` // REQUIRED: credit | debit
	Method    bigquery.NullString `bigquery:"method"`    // NULLABLE

	RawDescription string `bigquery:"raw_description"` // REQUIRED STRING

	Categories      []string             `bigquery:"categories"`       // REPEATED STRING
	ConfidenceScore bigquery.NullFloat64 `bigquery:"confidence_score"` // NULLABLE

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
	// IngestedTS orders versions of the same transaction; reads keep the
	// latest.
	IngestedTS time.Time `bigquery:"ingested_ts"` // REQUIRED
}

func toDocumentRow(doc domain.Document) *DocumentRow {
	return &DocumentRow{
		DocumentID:       doc.ID,
		ExternalID:       doc.ExternalID.String(),
		UserID:           doc.UserID,
		DocumentType:     doc.DocumentType,
		OriginalFilename: doc.Filename,
		FileMimeType:     doc.ContentType,
		FileContent:      doc.RawContent,
		GCSURI:           bigquery.NullString{StringVal: doc.ContentURI, Valid: doc.ContentURI != ""},
		Categories:       doc.HintCategories,
		ParsingStatus:    string(doc.Status),
		UploadTS:         doc.CreatedAt.UTC(),
		UpdatedTS:        doc.UpdatedAt.UTC(),
	}
}

func fromDocumentRow(row *DocumentRow) (domain.Document, error) {
	externalID, err := uuid.Parse(row.ExternalID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("document %d: external_id: %w", row.DocumentID, err)
	}
	doc := domain.Document{
		ID:           row.DocumentID,
		ExternalID:   externalID,
		UserID:       row.UserID,
		DocumentType: row.DocumentType,
		Filename:     row.OriginalFilename,
		ContentType:  row.FileMimeType,
		RawContent:   row.FileContent,
		Status:       domain.DocumentStatus(row.ParsingStatus),
		CreatedAt:    row.UploadTS.UTC(),
		UpdatedAt:    row.UpdatedTS.UTC(),
	}
	if row.GCSURI.Valid {
		doc.ContentURI = row.GCSURI.StringVal
	}
	if len(row.Categories) > 0 {
		doc.HintCategories = row.Categories
	}
	return doc, nil
}

func toTransactionRow(tx *domain.Transaction, ingested time.Time) *TransactionRow {
	row := &TransactionRow{
		TransactionID:   tx.ID.String(),
		UserID:          tx.UserID,
		DocumentID:      tx.DocumentID,
		TransactionDate: civil.DateOf(tx.Date.UTC()),
		Amount:          tx.Amount.Rat(),
		Direction:       string(tx.Type),
		Method:          bigquery.NullString{StringVal: string(tx.Method), Valid: tx.Method != ""},
		RawDescription:  tx.Description,
		Categories:      tx.Categories,
		CreatedTS:       tx.CreatedAt.UTC(),
		IngestedTS:      ingested.UTC(),
	}
	if tx.ConfidenceScore != nil {
		row.ConfidenceScore = bigquery.NullFloat64{Float64: *tx.ConfidenceScore, Valid: true}
	}
	return row
}

func fromTransactionRow(row *TransactionRow) (*domain.Transaction, error) {
	id, err := uuid.Parse(row.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("transaction_id %q: %w", row.TransactionID, err)
	}
	if row.Amount == nil {
		return nil, fmt.Errorf("transaction %s: amount is NULL", row.TransactionID)
	}

	tx := &domain.Transaction{
		ID:          id,
		DocumentID:  row.DocumentID,
		UserID:      row.UserID,
		Date:        row.TransactionDate.In(time.UTC),
		Description: row.RawDescription,
		Amount:      decimal.NewFromBigRat(row.Amount, amountScale),
		Type:        domain.TransactionType(row.Direction),
		Categories:  append([]string{}, row.Categories...),
		CreatedAt:   row.CreatedTS.UTC(),
	}
	if row.Method.Valid {
		tx.Method = domain.TransactionMethod(row.Method.StringVal)
	}
	if row.ConfidenceScore.Valid {
		score := row.ConfidenceScore.Float64
		tx.ConfidenceScore = &score
	}
	return tx, nil
}
