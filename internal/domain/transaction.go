package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrZeroAmount is returned when a transaction is built with a zero amount.
	ErrZeroAmount = errors.New("transaction amount cannot be zero")
	// ErrInvalidTransactionType is returned for types other than credit/debit.
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	// ErrInvalidTransactionMethod is returned for unknown payment methods.
	ErrInvalidTransactionMethod = errors.New("invalid transaction method")
)

// TransactionType is the direction of money movement.
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit" // money in
	TransactionTypeDebit  TransactionType = "debit"  // money out
)

// ParseTransactionType accepts "credit"/"debit" in any case.
func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(strings.ToLower(strings.TrimSpace(s))); t {
	case TransactionTypeCredit, TransactionTypeDebit:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, s)
}

// TransactionMethod is the payment rail used by a transaction.
type TransactionMethod string

const (
	MethodPix        TransactionMethod = "pix"
	MethodTED        TransactionMethod = "ted"
	MethodDOC        TransactionMethod = "doc"
	MethodBoleto     TransactionMethod = "boleto"
	MethodPayment    TransactionMethod = "payment"
	MethodTransfer   TransactionMethod = "transfer"
	MethodWithdrawal TransactionMethod = "withdrawal"
	MethodDeposit    TransactionMethod = "deposit"
	MethodLoan       TransactionMethod = "loan"
	MethodOther      TransactionMethod = "other"
)

var knownMethods = map[TransactionMethod]bool{
	MethodPix: true, MethodTED: true, MethodDOC: true, MethodBoleto: true,
	MethodPayment: true, MethodTransfer: true, MethodWithdrawal: true,
	MethodDeposit: true, MethodLoan: true, MethodOther: true,
}

// ParseTransactionMethod accepts a known method in any case. An empty
// string yields the empty (absent) method.
func ParseTransactionMethod(s string) (TransactionMethod, error) {
	m := TransactionMethod(strings.ToLower(strings.TrimSpace(s)))
	if m == "" || knownMethods[m] {
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionMethod, s)
}

// transactionNamespace scopes the name-based ids of document transactions.
var transactionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:finance-doc-processor:transaction"))

// DocumentTransactionID returns the id of the index-th transaction of a
// document. Reprocessing the same document yields the same ids, so stores
// and mirrors keyed by transaction id see updates instead of new rows.
func DocumentTransactionID(documentID int64, index int) uuid.UUID {
	return uuid.NewSHA1(transactionNamespace, []byte(fmt.Sprintf("%d:%d", documentID, index)))
}

// Transaction is a single line item extracted from a document.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	DocumentID      int64             `json:"document_id"`
	UserID          int64             `json:"user_id"`
	Date            time.Time         `json:"date"`
	Description     string            `json:"description"`
	Amount          decimal.Decimal   `json:"amount"`
	Type            TransactionType   `json:"type"`
	Method          TransactionMethod `json:"method,omitempty"`
	Categories      []string          `json:"categories"`
	ConfidenceScore *float64          `json:"confidence_score,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// NewTransaction validates t and fills in defaults: a random id when
// absent, created_at = now, and an empty category list.
func NewTransaction(t Transaction) (*Transaction, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Categories == nil {
		t.Categories = []string{}
	}
	return &t, nil
}

// Validate checks the construction invariants of a transaction.
func (t *Transaction) Validate() error {
	if t.Amount.IsZero() {
		return ErrZeroAmount
	}
	if t.Type != TransactionTypeCredit && t.Type != TransactionTypeDebit {
		return fmt.Errorf("%w: %q", ErrInvalidTransactionType, t.Type)
	}
	if t.Method != "" && !knownMethods[t.Method] {
		return fmt.Errorf("%w: %q", ErrInvalidTransactionMethod, t.Method)
	}
	if t.ConfidenceScore != nil && (*t.ConfidenceScore < 0 || *t.ConfidenceScore > 1) {
		return fmt.Errorf("confidence score %v out of range [0,1]", *t.ConfidenceScore)
	}
	return nil
}

// HasCategories reports whether t already carries a usable category list:
// at least one entry and no blank entries.
func (t *Transaction) HasCategories() bool {
	if len(t.Categories) == 0 {
		return false
	}
	for _, c := range t.Categories {
		if strings.TrimSpace(c) == "" {
			return false
		}
	}
	return true
}

// SetCategorization replaces the category list and confidence of t.
func (t *Transaction) SetCategorization(categories []string, confidence float64) {
	t.Categories = categories
	t.ConfidenceScore = &confidence
}

// Confidence returns the confidence score, or 0 when unset.
func (t *Transaction) Confidence() float64 {
	if t.ConfidenceScore == nil {
		return 0
	}
	return *t.ConfidenceScore
}
