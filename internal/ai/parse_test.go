package ai

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{"plain", `{"transactions":[]}`, `{"transactions":[]}`, nil},
		{"fenced", "```json\n{\"transactions\":[]}\n```", `{"transactions":[]}`, nil},
		{"chatter around", "Here you go:\n{\"a\":1}\nThanks!", `{"a":1}`, nil},
		{"no object", "sorry, I can't", "", ErrNoJSON},
		{"array only", "[1,2]", "", ErrNoJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cleanModelJSON(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("cleanModelJSON() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("cleanModelJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{`150.25`, "150.25", false},
		{`-42`, "-42", false},
		{`1.5e3`, "1500", false},
		{`-2E2`, "-200", false},
		{`2.5E-1`, "0.25", false},
		{`true`, "", true},
		{`"1500.00"`, "1500", false},
		{`"R$ 1.234,56"`, "1234.56", false},
		{`"-R$ 99,90"`, "-99.9", false},
		{`"1,234.56"`, "1234.56", false},
		{`"1.234.567"`, "1234567", false},
		{`null`, "", true},
		{`"abc"`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseAmount(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAmount(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err == nil && got.String() != tt.want {
				t.Errorf("parseAmount(%s) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2024-03-05", "05/03/2024", "05/03/24", "05-03-2024", "05.03.2024", "05.03.24"} {
		got, err := parseDate(s)
		if err != nil {
			t.Errorf("parseDate(%q) error = %v", s, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("parseDate(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := parseDate(""); err == nil {
		t.Error("Expected error for empty date")
	}
	if _, err := parseDate("March 5th"); err == nil {
		t.Error("Expected error for free-form date")
	}
}

func TestModelItem_ToTransaction(t *testing.T) {
	conf := 1.7
	item := modelItem{
		Date:            "2024-01-15",
		Description:     "  PIX ENVIADO  ",
		Amount:          json.RawMessage(`"-50,00"`),
		Type:            "",
		Method:          "cartão",
		Categories:      []string{"Mercado", "mercado"},
		ConfidenceScore: &conf,
	}
	tx, err := item.toTransaction()
	if err != nil {
		t.Fatalf("toTransaction failed: %v", err)
	}
	if tx.Type != domain.TransactionTypeDebit {
		t.Errorf("Type = %q, want debit inferred from sign", tx.Type)
	}
	if tx.Method != domain.MethodOther {
		t.Errorf("Method = %q, want other", tx.Method)
	}
	if tx.Description != "PIX ENVIADO" {
		t.Errorf("Description = %q", tx.Description)
	}
	if len(tx.Categories) != 1 || tx.Categories[0] != "mercado" {
		t.Errorf("Categories = %q", tx.Categories)
	}
	if tx.Confidence() != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", tx.Confidence())
	}
	if tx.ID == uuid.Nil {
		t.Error("Expected generated id")
	}

	zero := modelItem{Date: "2024-01-15", Amount: json.RawMessage(`0`), Type: "debit"}
	if _, err := zero.toTransaction(); !errors.Is(err, domain.ErrZeroAmount) {
		t.Errorf("zero amount error = %v, want ErrZeroAmount", err)
	}

	badType := modelItem{Date: "2024-01-15", Amount: json.RawMessage(`1`), Type: "refund"}
	if _, err := badType.toTransaction(); !errors.Is(err, domain.ErrInvalidTransactionType) {
		t.Errorf("bad type error = %v, want ErrInvalidTransactionType", err)
	}
}

func TestDecodeItems_KeepsPositions(t *testing.T) {
	raw := `{"transactions": [{"id": "x", "categories": ["a"]}, {"categories": "not-a-list"}, {"categories": ["c"]}]}`
	items, err := decodeItems(raw)
	if err != nil {
		t.Fatalf("decodeItems failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	if len(items[1].Categories) != 0 {
		t.Errorf("malformed item should decode as empty, got %+v", items[1])
	}
	if items[2].Categories[0] != "c" {
		t.Errorf("items[2] = %+v", items[2])
	}
}

func TestPromptTransactions_OmitsCategories(t *testing.T) {
	tx := &domain.Transaction{
		ID:          uuid.New(),
		Date:        time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Description: "PIX ENVIADO MARIA",
		Amount:      decimal.RequireFromString("-50"),
		Type:        domain.TransactionTypeDebit,
		Categories:  []string{"outros", "transferência"},
	}

	payload, err := json.Marshal(promptTransactions([]*domain.Transaction{tx}))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, unwanted := range []string{"categories", "outros", "transferência"} {
		if strings.Contains(string(payload), unwanted) {
			t.Errorf("prompt payload %s contains %q", payload, unwanted)
		}
	}
	if !strings.Contains(string(payload), tx.ID.String()) {
		t.Errorf("prompt payload %s is missing the transaction id", payload)
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("água", 10); got != "água" {
		t.Errorf("truncateText short = %q", got)
	}
	if got := truncateText("águas", 2); got != "ág..." {
		t.Errorf("truncateText long = %q", got)
	}
}
