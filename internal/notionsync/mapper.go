package notionsync

import (
	"strconv"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

// Property names of the transactions database.
const (
	PropDescription   = "Description"
	PropDate          = "Date"
	PropAmount        = "Amount"
	PropType          = "Type"
	PropMethod        = "Method"
	PropCategories    = "Categories"
	PropConfidence    = "Confidence"
	PropTransactionID = "Transaction ID"
	PropDocumentID    = "Document ID"
	PropUserID        = "User ID"
	PropImportedAt    = "Imported At"
)

// TransactionToNotionProperties converts a transaction to Notion properties.
// The amount is signed: debits are negative.
func TransactionToNotionProperties(tx *domain.Transaction) notionapi.Properties {
	amount := tx.Amount.Abs()
	if tx.Type == domain.TransactionTypeDebit {
		amount = amount.Neg()
	}
	value, _ := amount.Float64()

	props := notionapi.Properties{
		PropDescription: notionapi.TitleProperty{
			Title: richText(tx.Description),
		},
		PropDate: dateProperty(tx.Date),
		PropAmount: notionapi.NumberProperty{
			Number: value,
		},
		PropType: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.Type)},
		},
		PropTransactionID: notionapi.RichTextProperty{
			RichText: richText(tx.ID.String()),
		},
		PropDocumentID: notionapi.RichTextProperty{
			RichText: richText(strconv.FormatInt(tx.DocumentID, 10)),
		},
		PropUserID: notionapi.RichTextProperty{
			RichText: richText(strconv.FormatInt(tx.UserID, 10)),
		},
		PropImportedAt: dateProperty(tx.CreatedAt),
	}

	if tx.Method != "" {
		props[PropMethod] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.Method)},
		}
	}

	options := make([]notionapi.Option, 0, len(tx.Categories))
	for _, c := range tx.Categories {
		options = append(options, notionapi.Option{Name: c})
	}
	props[PropCategories] = notionapi.MultiSelectProperty{
		MultiSelect: options,
	}

	if tx.ConfidenceScore != nil {
		props[PropConfidence] = notionapi.NumberProperty{
			Number: *tx.ConfidenceScore,
		}
	}

	return props
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{
				Content: content,
			},
		},
	}
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{
			Start: &d,
		},
	}
}

// extractTransactionID returns the Transaction ID of a page, or "" when the
// page has none.
func extractTransactionID(page notionapi.Page) string {
	switch prop := page.Properties[PropTransactionID].(type) {
	case *notionapi.RichTextProperty:
		return plainText(prop.RichText)
	case notionapi.RichTextProperty:
		return plainText(prop.RichText)
	}
	return ""
}

func plainText(rt []notionapi.RichText) string {
	if len(rt) == 0 {
		return ""
	}
	if rt[0].PlainText != "" {
		return rt[0].PlainText
	}
	if rt[0].Text != nil {
		return rt[0].Text.Content
	}
	return ""
}
