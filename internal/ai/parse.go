package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

// dateLayouts are tried in order when reading model dates.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02/01/06",
	"02-01-2006",
	"02.01.2006",
	"02.01.06",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// modelItem is one transaction as a model writes it. Amount may be a JSON
// number or a string.
type modelItem struct {
	ID              string          `json:"id"`
	Date            string          `json:"date"`
	Description     string          `json:"description"`
	Amount          json.RawMessage `json:"amount"`
	Type            string          `json:"type"`
	Method          string          `json:"method"`
	Categories      []string        `json:"categories"`
	ConfidenceScore *float64        `json:"confidence_score"`
}

// promptItem is one transaction as sent to a model for categorization.
// Categories already on the transaction are left out so placeholder labels
// do not anchor the answer.
type promptItem struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	Method      string `json:"method,omitempty"`
}

func promptTransactions(batch []*domain.Transaction) []promptItem {
	items := make([]promptItem, len(batch))
	for i, tx := range batch {
		items[i] = promptItem{
			ID:          tx.ID.String(),
			Date:        tx.Date.Format("2006-01-02"),
			Description: tx.Description,
			Amount:      tx.Amount.String(),
			Type:        string(tx.Type),
			Method:      string(tx.Method),
		}
	}
	return items
}

// decodeItems pulls the "transactions" array out of a model answer. Items
// are decoded one by one so a single malformed entry is dropped instead of
// failing the whole response.
func decodeItems(raw string) ([]modelItem, error) {
	clean, err := cleanModelJSON(raw)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal([]byte(clean), &envelope); err != nil {
		return nil, fmt.Errorf("decodeItems: unmarshal JSON: %w", err)
	}

	items := make([]modelItem, 0, len(envelope.Transactions))
	for _, rawItem := range envelope.Transactions {
		var item modelItem
		if err := json.Unmarshal(rawItem, &item); err != nil {
			// keep positions aligned for categorization results
			items = append(items, modelItem{})
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// cleanModelJSON strips Markdown fences and any text around the outermost
// JSON object.
func cleanModelJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", ErrNoJSON
	}
	return strings.TrimSpace(s[start : end+1]), nil
}

// toTransaction converts an extraction result into a validated transaction.
func (m modelItem) toTransaction() (*domain.Transaction, error) {
	date, err := parseDate(m.Date)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(m.Amount)
	if err != nil {
		return nil, err
	}

	typ, err := domain.ParseTransactionType(m.Type)
	if err != nil {
		if strings.TrimSpace(m.Type) != "" {
			return nil, err
		}
		typ = domain.TransactionTypeCredit
		if amount.IsNegative() {
			typ = domain.TransactionTypeDebit
		}
	}

	method, err := domain.ParseTransactionMethod(m.Method)
	if err != nil {
		method = domain.MethodOther
	}

	return domain.NewTransaction(domain.Transaction{
		Date:            date,
		Description:     strings.TrimSpace(m.Description),
		Amount:          amount,
		Type:            typ,
		Method:          method,
		Categories:      domain.SanitizeCategories(m.Categories),
		ConfidenceScore: clampConfidence(m.ConfidenceScore),
	})
}

// toCategorization converts a categorization result. Only id, categories
// and confidence are meaningful.
func (m modelItem) toCategorization() *domain.Transaction {
	id, err := uuid.Parse(strings.TrimSpace(m.ID))
	if err != nil {
		id = uuid.Nil
	}
	return &domain.Transaction{
		ID:              id,
		Categories:      domain.SanitizeCategories(m.Categories),
		ConfidenceScore: clampConfidence(m.ConfidenceScore),
	}
}

func clampConfidence(c *float64) *float64 {
	if c == nil {
		return nil
	}
	v := *c
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return &v
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("parseDate: empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parseDate: unrecognized date %q", s)
}

// parseAmount reads a JSON number, exponent included, or a string such as
// "R$ 1.234,56" or "-150.25".
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Decimal{}, fmt.Errorf("parseAmount: missing amount")
	}
	if !strings.HasPrefix(s, `"`) {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("parseAmount: %s: %w", s, err)
		}
		return d, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return decimal.Decimal{}, fmt.Errorf("parseAmount: %w", err)
	}

	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '-' || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	cleaned := normalizeSeparators(b.String())

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parseAmount: %q: %w", s, err)
	}
	return d, nil
}

// normalizeSeparators turns "1.234,56" and "1,234.56" into "1234.56". A
// lone comma is read as the decimal separator.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	return s
}
