package ai

import (
	"fmt"
	"strings"

	"github.com/dvloznov/finance-doc-processor/internal/domain"
)

// promptStyle is how one provider family likes its instructions framed.
type promptStyle struct {
	extractionSystem     string
	categorizationSystem string
	extraction           func(text, documentType string, hintCategories []string) string
	categorization       func(transactionsJSON, instructions string) string
}

const (
	extractionSystem     = "You extract financial transactions from bank documents. Reply with the requested JSON only, without explanations."
	categorizationSystem = "You categorize financial transactions. Reply with the requested JSON only, without explanations."

	extractionExample = `{
  "transactions": [
    {
      "date": "2023-01-15",
      "description": "TRANSFERÊNCIA RECEBIDA - JOÃO SILVA",
      "amount": "1500.00",
      "type": "credit",
      "method": "ted",
      "categories": ["salário"],
      "confidence_score": 0.95
    },
    {
      "date": "2023-01-20",
      "description": "PAGAMENTO - CONTA DE LUZ",
      "amount": "150.25",
      "type": "debit",
      "method": "boleto",
      "categories": ["luz"],
      "confidence_score": 0.92
    }
  ]
}`

	categorizationExample = `{
  "transactions": [
    {
      "id": "<id copied from the input>",
      "categories": ["supermercado"],
      "confidence_score": 0.92
    }
  ]
}`

	methodList = "pix, ted, doc, boleto, payment, transfer, withdrawal, deposit, loan, other"
)

func hintLine(hintCategories []string) string {
	if len(hintCategories) == 0 {
		return ""
	}
	return "Available categories: " + strings.Join(hintCategories, ", ") + "\n"
}

// categoryInstructions tells the model which labels it may use.
func categoryInstructions(hints domain.CategoryHints) string {
	if len(hints.Allowed) > 0 {
		return fmt.Sprintf("Use ONLY these categories: %s.\n"+
			"If a transaction fits none of them, return an empty category list.", strings.Join(hints.Allowed, ", "))
	}

	var b strings.Builder
	b.WriteString("Assign specific, descriptive categories to each transaction.\n")
	if len(hints.Avoid) > 0 {
		quoted := make([]string, len(hints.Avoid))
		for i, c := range hints.Avoid {
			quoted[i] = fmt.Sprintf("%q", c)
		}
		b.WriteString("Avoid generic categories such as: " + strings.Join(quoted, ", ") + ".\n")
	}
	b.WriteString("If no specific category fits, return an empty category list instead of a generic one.")
	return b.String()
}

var openAIStyle = promptStyle{
	extractionSystem:     extractionSystem,
	categorizationSystem: categorizationSystem,
	extraction: func(text, documentType string, hints []string) string {
		return "# Task: extract financial transactions\n\n" +
			"## Context\nYou are reading a document of type '" + documentType + "' converted to plain text.\n\n" +
			"## Document\n```\n" + text + "\n```\n\n" +
			"## Instructions\n" +
			"1. Extract EVERY transaction in the document.\n" +
			"2. For each one give date (YYYY-MM-DD), description, amount (decimal string), " +
			"type (credit for money in, debit for money out), method (" + methodList + ") and categories.\n" +
			"3. Give each extraction a confidence_score between 0 and 1.\n" +
			hintLine(hints) + "\n" +
			"## Output\n```json\n" + extractionExample + "\n```\n\n" +
			"Do not extract balances, totals or header lines. Leave unknown fields null. " +
			"If there are no transactions return {\"transactions\": []}.\n"
	},
	categorization: func(transactionsJSON, instructions string) string {
		return "# Task: categorize financial transactions\n\n" +
			"## Data\n```json\n" + transactionsJSON + "\n```\n\n" +
			"## Instructions\n" +
			"1. Give each transaction 1 to 3 relevant categories.\n" +
			"2. Give each categorization a confidence_score between 0 and 1.\n" +
			"3. Copy every transaction id unchanged and keep the input order.\n\n" +
			instructions + "\n\n" +
			"## Output\n```json\n" + categorizationExample + "\n```\n"
	},
}

var geminiStyle = promptStyle{
	extractionSystem:     extractionSystem,
	categorizationSystem: categorizationSystem,
	extraction: func(text, documentType string, hints []string) string {
		return "Extract all financial transactions from the following '" + documentType + "' document.\n\n" +
			"DOCUMENT:\n```\n" + text + "\n```\n\n" +
			"DETAILED INSTRUCTIONS:\n" +
			"1. Extract every individual transaction.\n" +
			"2. For each transaction identify: date (YYYY-MM-DD), full description, exact amount, " +
			"type ('credit' or 'debit'), method (" + methodList + ") and categories.\n" +
			"3. Give a confidence_score between 0 and 1.\n" +
			"4. Do not use generic categories such as \"transferência\" or \"pix\".\n" +
			hintLine(hints) + "\n" +
			"RESPONSE FORMAT:\n```json\n" + extractionExample + "\n```\n\n" +
			"If no transactions are found return {\"transactions\": []}.\n" +
			"IMPORTANT: answer ONLY with the JSON.\n"
	},
	categorization: func(transactionsJSON, instructions string) string {
		return "Categorize the following financial transactions:\n\n" +
			"```json\n" + transactionsJSON + "\n```\n\n" +
			"DETAILED INSTRUCTIONS:\n" +
			"1. For each transaction set \"categories\" (1 to 3 entries) and \"confidence_score\" (0 to 1).\n" +
			"2. Echo the \"id\" of every transaction exactly and keep the input order.\n" +
			"3. Keep categories consistent between similar transactions.\n\n" +
			instructions + "\n\n" +
			"RESPONSE FORMAT:\n```json\n" + categorizationExample + "\n```\n\n" +
			"IMPORTANT: answer ONLY with the JSON.\n"
	},
}

var claudeStyle = promptStyle{
	extractionSystem:     extractionSystem,
	categorizationSystem: categorizationSystem,
	extraction: func(text, documentType string, hints []string) string {
		return "<document>\n" + text + "\n</document>\n\n" +
			"Extract all financial transactions from the document above, which is a '" + documentType + "'.\n\n" +
			hintLine(hints) +
			"<rules>\n" +
			"1. Identify EVERY individual transaction.\n" +
			"2. For each: date (YYYY-MM-DD), full description, amount as a decimal string, " +
			"type \"credit\" or \"debit\", method when identifiable (" + methodList + "), " +
			"relevant categories and a confidence_score between 0 and 1.\n" +
			"3. Skip balances, totals and anything that is not a transaction.\n" +
			"4. Use null for fields you cannot identify.\n" +
			"</rules>\n\n" +
			"<format>\n" + extractionExample + "\n</format>\n\n" +
			"Answer ONLY with the JSON.\n"
	},
	categorization: func(transactionsJSON, instructions string) string {
		return "<transactions>\n" + transactionsJSON + "\n</transactions>\n\n" +
			"Categorize each transaction above.\n\n" +
			"<instructions>\n" + instructions + "\n" +
			"Use 1 to 3 categories per transaction, add a confidence_score between 0 and 1, " +
			"and copy each id unchanged in the input order.\n" +
			"</instructions>\n\n" +
			"<format>\n" + categorizationExample + "\n</format>\n\n" +
			"Answer ONLY with the JSON.\n"
	},
}
