// Package bigquery provides a Store backed by BigQuery tables.
package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/store"
	"google.golang.org/api/iterator"
)

const (
	documentsTable    = "documents"
	transactionsTable = "transactions"
)

// Store implements store.Store on BigQuery. Documents are written with DML
// so their status can be updated; transactions are streamed and
// deduplicated on read by transaction_id, keeping the latest version.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	now       func() time.Time
}

// NewStore creates a Store with its own BigQuery client.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return NewStoreWithClient(client, projectID, datasetID), nil
}

// NewStoreWithClient creates a Store on a shared client.
func NewStoreWithClient(client *bigquery.Client, projectID, datasetID string) *Store {
	return &Store{client: client, projectID: projectID, datasetID: datasetID, now: time.Now}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, name)
}

// SaveDocument implements store.Store.
func (s *Store) SaveDocument(ctx context.Context, doc domain.Document) error {
	row := toDocumentRow(doc)

	q := s.client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @document_id AS document_id) S
		ON T.document_id = S.document_id
		WHEN MATCHED THEN UPDATE SET
			document_type = @document_type,
			original_filename = @original_filename,
			file_mime_type = @file_mime_type,
			file_content = @file_content,
			gcs_uri = @gcs_uri,
			categories = @categories,
			parsing_status = @parsing_status,
			updated_ts = @updated_ts
		WHEN NOT MATCHED THEN INSERT (
			document_id, external_id, user_id, document_type, original_filename,
			file_mime_type, file_content, gcs_uri, categories, parsing_status,
			upload_ts, updated_ts
		)
		VALUES (
			@document_id, @external_id, @user_id, @document_type, @original_filename,
			@file_mime_type, @file_content, @gcs_uri, @categories, @parsing_status,
			@upload_ts, @updated_ts
		)
	`, s.table(documentsTable)))
	q.Parameters = documentParameters(row)

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("SaveDocument(%d): %w", doc.ID, err)
	}
	return nil
}

func documentParameters(row *DocumentRow) []bigquery.QueryParameter {
	categories := row.Categories
	if categories == nil {
		categories = []string{}
	}
	return []bigquery.QueryParameter{
		{Name: "document_id", Value: row.DocumentID},
		{Name: "external_id", Value: row.ExternalID},
		{Name: "user_id", Value: row.UserID},
		{Name: "document_type", Value: row.DocumentType},
		{Name: "original_filename", Value: row.OriginalFilename},
		{Name: "file_mime_type", Value: row.FileMimeType},
		{Name: "file_content", Value: row.FileContent},
		{Name: "gcs_uri", Value: row.GCSURI},
		{Name: "categories", Value: categories},
		{Name: "parsing_status", Value: row.ParsingStatus},
		{Name: "upload_ts", Value: row.UploadTS},
		{Name: "updated_ts", Value: row.UpdatedTS},
	}
}

// GetDocument implements store.Store.
func (s *Store) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			document_id,
			external_id,
			user_id,
			document_type,
			original_filename,
			file_mime_type,
			file_content,
			gcs_uri,
			categories,
			parsing_status,
			upload_ts,
			updated_ts
		FROM %s
		WHERE document_id = @document_id
		LIMIT 1
	`, s.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "document_id", Value: id}}

	it, err := q.Read(ctx)
	if err != nil {
		return domain.Document{}, fmt.Errorf("GetDocument(%d): reading query: %w", id, err)
	}

	var row DocumentRow
	err = it.Next(&row)
	if err == iterator.Done {
		return domain.Document{}, fmt.Errorf("GetDocument(%d): %w", id, store.ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("GetDocument(%d): reading row: %w", id, err)
	}

	doc, err := fromDocumentRow(&row)
	if err != nil {
		return domain.Document{}, fmt.Errorf("GetDocument(%d): %w", id, err)
	}
	return doc, nil
}

// UpdateDocumentStatus implements store.Store.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status domain.DocumentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("UpdateDocumentStatus: invalid status %q", status)
	}

	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET parsing_status = @status, updated_ts = @updated_ts
		WHERE document_id = @document_id
	`, s.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(status)},
		{Name: "updated_ts", Value: s.now().UTC()},
		{Name: "document_id", Value: id},
	}

	affected, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("UpdateDocumentStatus(%d): %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("UpdateDocumentStatus(%d): %w", id, store.ErrNotFound)
	}
	return nil
}

// SaveTransactions implements store.Store. Each call appends a new version
// of every row; retries of the same call are deduplicated by insert id.
func (s *Store) SaveTransactions(ctx context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	ingested := s.now().UTC()
	savers := make([]*bigquery.StructSaver, 0, len(txs))
	for _, tx := range txs {
		row := toTransactionRow(tx, ingested)
		savers = append(savers, &bigquery.StructSaver{
			Struct:   row,
			InsertID: fmt.Sprintf("%s-%d", row.TransactionID, ingested.UnixNano()),
		})
	}

	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("SaveTransactions: inserting rows: %w", err)
	}
	return nil
}

// DeleteTransactionsByDocument implements store.Store. Rows still in the
// streaming buffer cannot be deleted with DML; that error is ignored
// because transaction ids are derived from the document, so the next save
// supersedes those rows on read.
func (s *Store) DeleteTransactionsByDocument(ctx context.Context, documentID int64) error {
	q := s.client.Query(fmt.Sprintf(`
		DELETE FROM %s
		WHERE document_id = @document_id
	`, s.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "document_id", Value: documentID}}

	if _, err := runDML(ctx, q); err != nil && !isStreamingBufferError(err) {
		return fmt.Errorf("DeleteTransactionsByDocument(%d): %w", documentID, err)
	}
	return nil
}

func isStreamingBufferError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "streaming buffer")
}

// latestTransactions selects the newest version of each transaction
// matching where.
func (s *Store) latestTransactions(where string) string {
	return fmt.Sprintf(`
		SELECT
			t.transaction_id,
			t.user_id,
			t.document_id,
			t.transaction_date,
			t.amount,
			t.direction,
			t.method,
			t.raw_description,
			t.categories,
			t.confidence_score,
			t.created_ts,
			t.ingested_ts
		FROM %s t
		WHERE %s
		QUALIFY ROW_NUMBER() OVER (PARTITION BY t.transaction_id ORDER BY t.ingested_ts DESC) = 1
	`, s.table(transactionsTable), where)
}

// GetTransactionsByDocument implements store.Store.
func (s *Store) GetTransactionsByDocument(ctx context.Context, documentID int64) ([]*domain.Transaction, error) {
	q := s.client.Query(s.latestTransactions("t.document_id = @document_id") + `
		ORDER BY transaction_date, created_ts, transaction_id
	`)
	q.Parameters = []bigquery.QueryParameter{{Name: "document_id", Value: documentID}}

	txs, err := readTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetTransactionsByDocument(%d): %w", documentID, err)
	}
	return txs, nil
}

// GetTransactionsByUser implements store.Store.
func (s *Store) GetTransactionsByUser(ctx context.Context, userID int64, limit, offset int) ([]*domain.Transaction, error) {
	limit, offset = store.NormalizePage(limit, offset)

	q := s.client.Query(s.latestTransactions("t.user_id = @user_id") + `
		ORDER BY transaction_date DESC, created_ts DESC, transaction_id
		LIMIT @limit OFFSET @offset
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "limit", Value: limit},
		{Name: "offset", Value: offset},
	}

	txs, err := readTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetTransactionsByUser(%d): %w", userID, err)
	}
	return txs, nil
}

func readTransactions(ctx context.Context, q *bigquery.Query) ([]*domain.Transaction, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	txs := []*domain.Transaction{}
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		tx, err := fromTransactionRow(&row)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// runDML runs a DML statement to completion and returns the number of
// affected rows, or -1 when the job reports no query statistics.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return -1, nil
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
