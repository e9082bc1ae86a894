// Package sqlite provides a Store backed by a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements store.Store on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path with WAL mode and foreign
// keys enabled and makes sure the schema exists. ":memory:" opens a private
// in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	// Each connection to ":memory:" is a separate database, and a single
	// writer avoids SQLITE_BUSY on files.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("Open: %s: %w", p, err)
		}
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY,
	external_id TEXT NOT NULL,
	user_id INTEGER NOT NULL,
	document_type TEXT NOT NULL,
	filename TEXT NOT NULL,
	content_type TEXT NOT NULL,
	file_content TEXT NOT NULL DEFAULT '',
	content_uri TEXT NOT NULL DEFAULT '',
	categories TEXT,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_user_id ON documents(user_id);
CREATE INDEX IF NOT EXISTS idx_documents_external_id ON documents(external_id);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	document_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	date TEXT NOT NULL,
	description TEXT NOT NULL,
	amount TEXT NOT NULL,
	type TEXT NOT NULL,
	method TEXT NOT NULL DEFAULT '',
	categories TEXT NOT NULL DEFAULT '[]',
	confidence_score REAL,
	created_at TEXT NOT NULL,
	FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_transactions_document_id ON transactions(document_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, date);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initSchema: %w", err)
	}
	return nil
}

// SaveDocument implements store.Store.
func (s *Store) SaveDocument(ctx context.Context, doc domain.Document) error {
	categories, err := encodeNullableList(doc.HintCategories)
	if err != nil {
		return fmt.Errorf("SaveDocument: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO documents(
	id, external_id, user_id, document_type, filename, content_type,
	file_content, content_uri, categories, status, created_at, updated_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	document_type=excluded.document_type,
	filename=excluded.filename,
	content_type=excluded.content_type,
	file_content=excluded.file_content,
	content_uri=excluded.content_uri,
	categories=excluded.categories,
	status=excluded.status,
	updated_at=excluded.updated_at;
`,
		doc.ID, doc.ExternalID.String(), doc.UserID, doc.DocumentType, doc.Filename, doc.ContentType,
		doc.RawContent, doc.ContentURI, categories, string(doc.Status),
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("SaveDocument(%d): %w", doc.ID, err)
	}
	return nil
}

// GetDocument implements store.Store.
func (s *Store) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, external_id, user_id, document_type, filename, content_type,
	file_content, content_uri, categories, status, created_at, updated_at
FROM documents WHERE id = ?`, id)

	var (
		doc                  domain.Document
		externalID, status   string
		categories           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&doc.ID, &externalID, &doc.UserID, &doc.DocumentType, &doc.Filename, &doc.ContentType,
		&doc.RawContent, &doc.ContentURI, &categories, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("GetDocument(%d): %w", id, store.ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("GetDocument(%d): %w", id, err)
	}

	if doc.ExternalID, err = uuid.Parse(externalID); err != nil {
		return domain.Document{}, fmt.Errorf("GetDocument(%d): external_id: %w", id, err)
	}
	if categories.Valid {
		if err := json.Unmarshal([]byte(categories.String), &doc.HintCategories); err != nil {
			return domain.Document{}, fmt.Errorf("GetDocument(%d): categories: %w", id, err)
		}
	}
	doc.Status = domain.DocumentStatus(status)
	if doc.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Document{}, fmt.Errorf("GetDocument(%d): %w", id, err)
	}
	if doc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Document{}, fmt.Errorf("GetDocument(%d): %w", id, err)
	}
	return doc, nil
}

// UpdateDocumentStatus implements store.Store.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status domain.DocumentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("UpdateDocumentStatus: invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("UpdateDocumentStatus(%d): %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateDocumentStatus(%d): %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("UpdateDocumentStatus(%d): %w", id, store.ErrNotFound)
	}
	return nil
}

// SaveTransactions implements store.Store. All rows are written in one
// database transaction.
func (s *Store) SaveTransactions(ctx context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SaveTransactions: %w", err)
	}
	defer dbtx.Rollback()

	stmt, err := dbtx.PrepareContext(ctx, `
INSERT INTO transactions(
	id, document_id, user_id, date, description, amount, type, method,
	categories, confidence_score, created_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	date=excluded.date,
	description=excluded.description,
	amount=excluded.amount,
	type=excluded.type,
	method=excluded.method,
	categories=excluded.categories,
	confidence_score=excluded.confidence_score;
`)
	if err != nil {
		return fmt.Errorf("SaveTransactions: prepare: %w", err)
	}
	defer stmt.Close()

	for _, tx := range txs {
		if tx.ID == uuid.Nil {
			return fmt.Errorf("SaveTransactions: transaction ID is required")
		}
		categories, err := json.Marshal(nonNil(tx.Categories))
		if err != nil {
			return fmt.Errorf("SaveTransactions: %w", err)
		}
		var confidence sql.NullFloat64
		if tx.ConfidenceScore != nil {
			confidence = sql.NullFloat64{Float64: *tx.ConfidenceScore, Valid: true}
		}
		_, err = stmt.ExecContext(ctx,
			tx.ID.String(), tx.DocumentID, tx.UserID, formatTime(tx.Date), tx.Description,
			tx.Amount.String(), string(tx.Type), string(tx.Method), string(categories),
			confidence, formatTime(tx.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("SaveTransactions: transaction %s: %w", tx.ID, err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("SaveTransactions: commit: %w", err)
	}
	return nil
}

// DeleteTransactionsByDocument implements store.Store.
func (s *Store) DeleteTransactionsByDocument(ctx context.Context, documentID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("DeleteTransactionsByDocument(%d): %w", documentID, err)
	}
	return nil
}

const transactionColumns = `id, document_id, user_id, date, description, amount, type, method,
	categories, confidence_score, created_at`

// GetTransactionsByDocument implements store.Store.
func (s *Store) GetTransactionsByDocument(ctx context.Context, documentID int64) ([]*domain.Transaction, error) {
	txs, err := s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE document_id = ?
ORDER BY date, created_at, id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("GetTransactionsByDocument(%d): %w", documentID, err)
	}
	return txs, nil
}

// GetTransactionsByUser implements store.Store.
func (s *Store) GetTransactionsByUser(ctx context.Context, userID int64, limit, offset int) ([]*domain.Transaction, error) {
	limit, offset = store.NormalizePage(limit, offset)
	txs, err := s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ?
ORDER BY date DESC, created_at DESC, id
LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("GetTransactionsByUser(%d): %w", userID, err)
	}
	return txs, nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []*domain.Transaction{}
	for rows.Next() {
		var (
			tx                                   domain.Transaction
			id, date, amount, kind, method, cats string
			createdAt                            string
			confidence                           sql.NullFloat64
		)
		if err := rows.Scan(&id, &tx.DocumentID, &tx.UserID, &date, &tx.Description, &amount, &kind, &method,
			&cats, &confidence, &createdAt); err != nil {
			return nil, err
		}

		if tx.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("transaction id %q: %w", id, err)
		}
		if tx.Date, err = parseTime(date); err != nil {
			return nil, err
		}
		if tx.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s amount %q: %w", id, amount, err)
		}
		if err := json.Unmarshal([]byte(cats), &tx.Categories); err != nil {
			return nil, fmt.Errorf("transaction %s categories: %w", id, err)
		}
		tx.Categories = nonNil(tx.Categories)
		tx.Type = domain.TransactionType(kind)
		tx.Method = domain.TransactionMethod(method)
		if confidence.Valid {
			score := confidence.Float64
			tx.ConfidenceScore = &score
		}
		txs = append(txs, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func encodeNullableList(list []string) (sql.NullString, error) {
	if list == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
