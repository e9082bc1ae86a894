package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

// documentFlags describe a local file submitted as a document.
type documentFlags struct {
	file         string
	id           int64
	userID       int64
	documentType string
	contentType  string
	categories   []string
}

func (f *documentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Path to the document file (required)")
	cmd.Flags().Int64Var(&f.id, "id", 0, "Document ID (defaults to the current unix time)")
	cmd.Flags().Int64Var(&f.userID, "user-id", 1, "Owner of the document")
	cmd.Flags().StringVarP(&f.documentType, "type", "t", "", "Document type, e.g. bank_statement (required)")
	cmd.Flags().StringVar(&f.contentType, "content-type", "", "MIME type (detected from the file extension when empty)")
	cmd.Flags().StringSliceVar(&f.categories, "categories", nil, "Category hints for the document")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("type")
}

// newDocument builds a document in the processing state. The file is read
// and embedded as base64 unless contentURI is set.
func (f *documentFlags) newDocument(contentURI string, now time.Time) (domain.Document, error) {
	contentType := f.contentType
	if contentType == "" {
		contentType = contentTypeFor(f.file)
	}
	id := f.id
	if id == 0 {
		id = now.Unix()
	}

	doc := domain.Document{
		ID:             id,
		ExternalID:     uuid.New(),
		UserID:         f.userID,
		DocumentType:   f.documentType,
		Filename:       filepath.Base(f.file),
		ContentType:    contentType,
		ContentURI:     contentURI,
		HintCategories: f.categories,
		Status:         domain.DocumentStatusProcessing,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
	if contentURI != "" {
		return doc, nil
	}

	data, err := os.ReadFile(f.file)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s: %w", f.file, err)
	}
	doc.RawContent = base64.StdEncoding.EncodeToString(data)
	return doc, nil
}

// contentTypeFor guesses a MIME type from the file extension. CSV and OFX
// are listed explicitly because system MIME tables often miss them.
func contentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return "text/csv"
	case ".ofx":
		return "application/x-ofx"
	case ".txt":
		return "text/plain"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType
		}
		return t
	}
	return "application/octet-stream"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTransactions(w io.Writer, txs []*domain.Transaction) {
	fmt.Fprintf(w, "\n=== Transactions (%d) ===\n", len(txs))
	for i, tx := range txs {
		fmt.Fprintf(w, "\n%d. %s\n", i+1, tx.Description)
		fmt.Fprintf(w, "   Date:       %s\n", tx.Date.Format("2006-01-02"))
		fmt.Fprintf(w, "   Amount:     %s (%s)\n", tx.Amount.StringFixed(2), tx.Type)
		if tx.Method != "" {
			fmt.Fprintf(w, "   Method:     %s\n", tx.Method)
		}
		if len(tx.Categories) > 0 {
			fmt.Fprintf(w, "   Categories: %s\n", strings.Join(tx.Categories, ", "))
		}
		if tx.ConfidenceScore != nil {
			fmt.Fprintf(w, "   Confidence: %.2f\n", *tx.ConfidenceScore)
		}
	}
	fmt.Fprintln(w)
}
